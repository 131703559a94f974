package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

type recountKind int

const (
	recountFollows recountKind = iota + 1
	recountPosts
)

type recountJob struct {
	kind  recountKind
	uid   string
	enqAt time.Time
}

// CounterReplicator 异步重算用户资料上的冗余计数（粉丝数、关注数、帖子数）
type CounterReplicator struct {
	profiles  repository.ProfileRepository
	follows   repository.FollowRepository
	posts     repository.PostRepository
	ch        chan recountJob
	metricsCh chan time.Duration
}

func NewCounterReplicator(profiles repository.ProfileRepository, follows repository.FollowRepository, posts repository.PostRepository, queueSize int) *CounterReplicator {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &CounterReplicator{
		profiles:  profiles,
		follows:   follows,
		posts:     posts,
		ch:        make(chan recountJob, queueSize),
		metricsCh: make(chan time.Duration, 65536),
	}
}

func (r *CounterReplicator) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 2
	}
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case job := <-r.ch:
					r.run(job)
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		// 先排空队列再停
		for len(r.ch) > 0 {
			select {
			case <-ctx.Done():
				close(stopCh)
				return ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
		}
		close(stopCh)
		wg.Wait()
		return nil
	}
}

func (r *CounterReplicator) run(job recountJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	switch job.kind {
	case recountFollows:
		err = r.recountFollows(ctx, job.uid)
	case recountPosts:
		err = r.recountPosts(ctx, job.uid)
	}
	if err != nil {
		logger.Warn("recount failed", zap.String("uid", job.uid), zap.Error(err))
		return
	}
	if !job.enqAt.IsZero() {
		select {
		case r.metricsCh <- time.Since(job.enqAt):
		default:
		}
	}
}

func (r *CounterReplicator) recountFollows(ctx context.Context, uid string) error {
	followers, err := r.follows.CountFollowers(ctx, uid)
	if err != nil {
		return err
	}
	following, err := r.follows.CountFollowings(ctx, uid)
	if err != nil {
		return err
	}
	return r.profiles.SetCounts(ctx, uid, map[string]int64{"followers_count": followers, "following_count": following})
}

func (r *CounterReplicator) recountPosts(ctx context.Context, uid string) error {
	n, err := r.posts.CountByAuthor(ctx, uid)
	if err != nil {
		return err
	}
	return r.profiles.SetCounts(ctx, uid, map[string]int64{"posts_count": n})
}

func (r *CounterReplicator) EnqueueFollows(uid string) {
	select {
	case r.ch <- recountJob{kind: recountFollows, uid: uid, enqAt: time.Now()}:
	default:
		recountsDropped.WithLabelValues("follows").Inc()
		logger.Warn("replicator queue full, drop follow recount", zap.String("uid", uid))
	}
}

func (r *CounterReplicator) EnqueuePosts(uid string) {
	select {
	case r.ch <- recountJob{kind: recountPosts, uid: uid, enqAt: time.Now()}:
	default:
		recountsDropped.WithLabelValues("posts").Inc()
		logger.Warn("replicator queue full, drop post recount", zap.String("uid", uid))
	}
}

// Metrics 返回重算落地耗时的只读通道（每处理一条发送一次 duration）。
func (r *CounterReplicator) Metrics() <-chan time.Duration { return r.metricsCh }

// QueueLen 返回当前队列长度（采样值）。
func (r *CounterReplicator) QueueLen() int { return len(r.ch) }
