package core

// ResourceLoadingTaskRunnerHandle is given to a resource loader. While the
// fetch priority experiment is active the handle owns a dedicated loading
// queue whose priority follows the request's network priority; otherwise it
// wraps the frame's shared loading queue and priority changes are ignored.
type ResourceLoadingTaskRunnerHandle struct {
	frame     *FrameScheduler
	queue     *TaskQueue
	dedicated bool
}

// CreateResourceLoadingTaskRunnerHandle returns a handle for one resource
// load.
func (f *FrameScheduler) CreateResourceLoadingTaskRunnerHandle() *ResourceLoadingTaskRunnerHandle {
	s := &f.sched.settings
	useFetchPriority := s.UseResourceFetchPriority &&
		(!s.UseResourceFetchPriorityOnlyWhenLoading || f.page.IsLoading())
	if !useFetchPriority {
		return &ResourceLoadingTaskRunnerHandle{frame: f, queue: f.LoadingTaskQueue()}
	}
	q := f.addQueue(LoadingTaskQueueTraits(), "resource-loading")
	q.resourceLoading = true
	return &ResourceLoadingTaskRunnerHandle{frame: f, queue: q, dedicated: true}
}

func (h *ResourceLoadingTaskRunnerHandle) TaskQueue() *TaskQueue { return h.queue }

// IsDedicated reports whether the handle has its own queue.
func (h *ResourceLoadingTaskRunnerHandle) IsDedicated() bool { return h.dedicated }

// DidChangeRequestPriority remaps p through the settings table and applies
// it to the handle's queue only.
func (h *ResourceLoadingTaskRunnerHandle) DidChangeRequestPriority(p NetPriority) {
	h.frame.DidChangeResourceLoadingPriority(h.queue, p)
}

// Close removes a dedicated queue from the frame. Shared queues stay.
func (h *ResourceLoadingTaskRunnerHandle) Close() {
	if h.dedicated {
		h.frame.removeQueue(h.queue)
	}
}

// DidChangeResourceLoadingPriority applies a network priority change to q.
// Queues that were not created for the fetch priority experiment are left
// alone.
func (f *FrameScheduler) DidChangeResourceLoadingPriority(q *TaskQueue, p NetPriority) {
	if q == nil || q.frame != f || !q.resourceLoading {
		return
	}
	prio, ok := f.sched.settings.NetToTaskPriority[p]
	if !ok {
		prio = DefaultNetToTaskPriority()[p]
	}
	q.resourcePriority = prio
	q.hasResourcePriority = true
}
