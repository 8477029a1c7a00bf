package hub

import (
	"context"
	"sync"
	"time"
)

// persistJob 在事件循环外执行持久化操作，返回的续体 (可为 nil) 回到事件循环中执行。
type persistJob func(ctx context.Context) func()

// persistQueue 按 key 串行执行持久化任务：同一个 key 的任务严格按入队顺序执行，
// 不同 key 之间并发。每个有积压任务的 key 对应一个 drain goroutine，队列清空后退出。
type persistQueue struct {
	mu      sync.Mutex
	backlog map[string][]persistJob

	timeout time.Duration
	deliver func(cont func())
	pending *sync.WaitGroup
}

func newPersistQueue(timeout time.Duration, pending *sync.WaitGroup, deliver func(cont func())) *persistQueue {
	return &persistQueue{
		backlog: make(map[string][]persistJob),
		timeout: timeout,
		deliver: deliver,
		pending: pending,
	}
}

// enqueue 追加任务。key 没有 drain goroutine 时启动一个。
func (q *persistQueue) enqueue(key string, job persistJob) {
	q.pending.Add(1)
	q.mu.Lock()
	jobs, draining := q.backlog[key]
	q.backlog[key] = append(jobs, job)
	q.mu.Unlock()
	if !draining {
		go q.drain(key)
	}
}

func (q *persistQueue) drain(key string) {
	for {
		q.mu.Lock()
		jobs := q.backlog[key]
		if len(jobs) == 0 {
			delete(q.backlog, key)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		q.backlog[key] = jobs[1:]
		q.mu.Unlock()

		q.run(job)
	}
}

func (q *persistQueue) run(job persistJob) {
	defer q.pending.Done()
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if cont := job(ctx); cont != nil {
		q.deliver(cont)
	}
}
