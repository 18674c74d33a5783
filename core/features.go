package core

import "sort"

// SchedulingPolicyFeature is a capability whose use is reported for
// back/forward cache eligibility. The ordinal is the bit position in the
// feature mask and must stay stable.
type SchedulingPolicyFeature int

const (
	FeatureWebSocket SchedulingPolicyFeature = iota
	FeatureWebRTC
	FeatureMainResourceHasCacheControlNoCache
	FeatureMainResourceHasCacheControlNoStore
	FeatureSubresourceHasCacheControlNoCache
	FeatureSubresourceHasCacheControlNoStore
	FeaturePageShowEventListener
	FeaturePageHideEventListener
	FeatureBeforeUnloadEventListener
	FeatureUnloadEventListener
	FeatureFreezeEventListener
	FeatureResumeEventListener
	FeatureContainsPlugins
	FeatureDocumentLoaded
	FeatureDedicatedWorkerOrWorklet
	FeatureOutstandingNetworkRequestOthers
	FeatureOutstandingIndexedDBTransaction
	FeatureHasScriptableFramesInMultipleTabs
	FeatureRequestedNotificationsPermission
	FeatureRequestedMIDIPermission
	FeatureRequestedAudioCapturePermission
	FeatureRequestedVideoCapturePermission
	FeatureRequestedBackForwardCacheBlockedSensors
	FeatureRequestedBackgroundWorkPermission
	FeatureBroadcastChannel
	FeatureIndexedDBConnection
	FeatureWebVR
	FeatureWebXR
	FeatureSharedWorker
	FeatureWebLocks
	FeatureWebHID
	FeatureWakeLock
	FeatureWebShare
	FeatureRequestedStorageAccessGrant
	FeatureWebNfc
	FeatureAppBanner
	FeaturePrinting
	FeatureWebDatabase
	FeaturePictureInPicture
	FeaturePortal
	FeatureSpeechRecognizer
	FeatureIdleManager
	FeaturePaymentManager
	FeatureSpeechSynthesis
	FeatureKeyboardLock
	FeatureWebOTPService
	FeatureOutstandingNetworkRequestDirectSocket

	featureCount
)

var featureNames = [featureCount]string{
	"WebSocket",
	"WebRTC",
	"MainResourceHasCacheControlNoCache",
	"MainResourceHasCacheControlNoStore",
	"SubresourceHasCacheControlNoCache",
	"SubresourceHasCacheControlNoStore",
	"PageShowEventListener",
	"PageHideEventListener",
	"BeforeUnloadEventListener",
	"UnloadEventListener",
	"FreezeEventListener",
	"ResumeEventListener",
	"ContainsPlugins",
	"DocumentLoaded",
	"DedicatedWorkerOrWorklet",
	"OutstandingNetworkRequestOthers",
	"OutstandingIndexedDBTransaction",
	"HasScriptableFramesInMultipleTabs",
	"RequestedNotificationsPermission",
	"RequestedMIDIPermission",
	"RequestedAudioCapturePermission",
	"RequestedVideoCapturePermission",
	"RequestedBackForwardCacheBlockedSensors",
	"RequestedBackgroundWorkPermission",
	"BroadcastChannel",
	"IndexedDBConnection",
	"WebVR",
	"WebXR",
	"SharedWorker",
	"WebLocks",
	"WebHID",
	"WakeLock",
	"WebShare",
	"RequestedStorageAccessGrant",
	"WebNfc",
	"AppBanner",
	"Printing",
	"WebDatabase",
	"PictureInPicture",
	"Portal",
	"SpeechRecognizer",
	"IdleManager",
	"PaymentManager",
	"SpeechSynthesis",
	"KeyboardLock",
	"WebOTPService",
	"OutstandingNetworkRequestDirectSocket",
}

func (f SchedulingPolicyFeature) String() string {
	if f < 0 || f >= featureCount {
		return "Unknown"
	}
	return featureNames[f]
}

// Mask returns the feature's bit.
func (f SchedulingPolicyFeature) Mask() uint64 {
	return 1 << uint(f)
}

// SchedulingPolicy is the effect a feature has on scheduling while it is in
// use.
type SchedulingPolicy struct {
	// DisableAggressiveThrottling keeps baseline throttling but turns off
	// intensive throttling for the whole page.
	DisableAggressiveThrottling bool

	// DisableAllThrottling turns off wake-up throttling for the whole page.
	DisableAllThrottling bool

	DisableBackForwardCache bool
}

// FeatureHandle keeps a session feature registered until Release.
type FeatureHandle struct {
	tracker    *FeatureTracker
	feature    SchedulingPolicyFeature
	policy     SchedulingPolicy
	generation uint64
	released   bool
}

func (h *FeatureHandle) Feature() SchedulingPolicyFeature { return h.feature }

// Release unregisters the feature. It is a no-op after a navigation reset
// the frame's features, after the frame was detached, or on a second call.
func (h *FeatureHandle) Release() {
	if h == nil || h.released {
		return
	}
	h.released = true
	t := h.tracker
	if t.frame.detached || h.generation != t.generation {
		return
	}
	delete(t.live, h)
	t.session[h.feature]--
	if t.session[h.feature] <= 0 {
		delete(t.session, h.feature)
	}
	t.frame.page.adjustOptOuts(h.policy, -1)
	t.markDirty()
}

// FeatureTracker records the scheduling-relevant features a frame uses.
// Session features live as long as their handle; sticky features live until
// the next cross-document navigation. Changes reach the frame delegate
// through a posted control task, coalesced to one call per task.
type FeatureTracker struct {
	frame *FrameScheduler

	live    map[*FeatureHandle]struct{}
	session map[SchedulingPolicyFeature]int
	sticky  map[SchedulingPolicyFeature]SchedulingPolicy

	generation    uint64
	uploadPending bool
	lastUploaded  uint64
}

func newFeatureTracker(f *FrameScheduler) *FeatureTracker {
	return &FeatureTracker{
		frame:   f,
		live:    make(map[*FeatureHandle]struct{}),
		session: make(map[SchedulingPolicyFeature]int),
		sticky:  make(map[SchedulingPolicyFeature]SchedulingPolicy),
	}
}

func (t *FeatureTracker) register(feature SchedulingPolicyFeature, policy SchedulingPolicy) *FeatureHandle {
	h := &FeatureHandle{tracker: t, feature: feature, policy: policy, generation: t.generation}
	if t.frame.detached {
		h.released = true
		return h
	}
	t.live[h] = struct{}{}
	t.session[feature]++
	t.frame.page.adjustOptOuts(policy, 1)
	t.markDirty()
	return h
}

func (t *FeatureTracker) registerSticky(feature SchedulingPolicyFeature, policy SchedulingPolicy) {
	if t.frame.detached {
		return
	}
	if _, ok := t.sticky[feature]; ok {
		return
	}
	t.sticky[feature] = policy
	t.frame.page.adjustOptOuts(policy, 1)
	t.markDirty()
}

// reset clears both sets and invalidates outstanding handles.
func (t *FeatureTracker) reset() {
	page := t.frame.page
	for h := range t.live {
		page.adjustOptOuts(h.policy, -1)
	}
	for _, policy := range t.sticky {
		page.adjustOptOuts(policy, -1)
	}
	t.generation++
	t.live = make(map[*FeatureHandle]struct{})
	t.session = make(map[SchedulingPolicyFeature]int)
	t.sticky = make(map[SchedulingPolicyFeature]SchedulingPolicy)
	t.markDirty()
}

// ActiveFeatures returns the features in use ordered by ordinal.
func (t *FeatureTracker) ActiveFeatures() []SchedulingPolicyFeature {
	out := make([]SchedulingPolicyFeature, 0, len(t.session)+len(t.sticky))
	for f := range t.session {
		out = append(out, f)
	}
	for f := range t.sticky {
		if _, dup := t.session[f]; !dup {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Mask returns the bitmask of ActiveFeatures.
func (t *FeatureTracker) Mask() uint64 {
	var mask uint64
	for _, f := range t.ActiveFeatures() {
		mask |= f.Mask()
	}
	return mask
}

// BlocksBackForwardCache reports whether any active feature disables the
// back/forward cache.
func (t *FeatureTracker) BlocksBackForwardCache() bool {
	for h := range t.live {
		if h.policy.DisableBackForwardCache {
			return true
		}
	}
	for _, p := range t.sticky {
		if p.DisableBackForwardCache {
			return true
		}
	}
	return false
}

func (t *FeatureTracker) markDirty() {
	if t.uploadPending {
		return
	}
	t.uploadPending = true
	t.frame.sched.postControlTask("feature-upload", func() {
		t.uploadPending = false
		t.upload()
	})
}

func (t *FeatureTracker) upload() {
	f := t.frame
	if f.detached {
		return
	}
	mask := t.Mask()
	if mask == t.lastUploaded {
		return
	}
	t.lastUploaded = mask
	f.delegate.UpdateActiveSchedulerTrackedFeatures(mask)
}
