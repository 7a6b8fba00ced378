package worker

import (
	"time"

	"lawsowl_billing/internal/domain/payment/model"
	"lawsowl_billing/pkg/logger"

	"go.uber.org/zap"
)

// Recorder 死信落库接口, 由 payment 仓储实现
type Recorder interface {
	CreateUnmatchedNotification(n *model.UnmatchedNotification) error
}

// DeadLetterTask 无法关联订单的网关回调, 异步落库供人工排查
type DeadLetterTask struct {
	Notification *model.UnmatchedNotification
	Retry        int // 重试次数
}

type DeadLetterPool struct {
	TaskQueue  chan DeadLetterTask
	RetryQueue chan DeadLetterTask // 重试队列
	Repo       Recorder
	WorkerNum  int
	MaxRetry   int // 最大重试次数
}

func NewDeadLetterPool(repo Recorder, workerNum int, bufferSize int) *DeadLetterPool {
	return &DeadLetterPool{
		TaskQueue:  make(chan DeadLetterTask, bufferSize),
		RetryQueue: make(chan DeadLetterTask, bufferSize/2),
		Repo:       repo,
		WorkerNum:  workerNum,
		MaxRetry:   3, // 最多重试3次
	}
}

func (p *DeadLetterPool) Start() {
	for i := 0; i < p.WorkerNum; i++ {
		go p.worker(i)
	}
	// 启动重试处理协程
	go p.retryWorker()
	logger.Log.Info("死信队列已启动", zap.Int("workers", p.WorkerNum))
}

func (p *DeadLetterPool) worker(id int) {
	for task := range p.TaskQueue {
		if err := p.Repo.CreateUnmatchedNotification(task.Notification); err != nil {
			logger.Log.Warn("死信落库失败",
				zap.Int("worker", id),
				zap.String("channel", task.Notification.Channel),
				zap.Int("attempt", task.Retry),
				zap.Error(err))

			// 如果未达到最大重试次数，加入重试队列
			if task.Retry < p.MaxRetry {
				task.Retry++
				select {
				case p.RetryQueue <- task:
				default:
					p.logDropped(task, err)
				}
			} else {
				p.logDropped(task, err)
			}
		}
	}
}

func (p *DeadLetterPool) retryWorker() {
	for task := range p.RetryQueue {
		// 延迟重试，避免立即重试
		time.Sleep(time.Duration(task.Retry) * time.Second)

		select {
		case p.TaskQueue <- task:
		default:
			p.logDropped(task, nil)
		}
	}
}

// logDropped 彻底失败的死信只能进日志, 靠网关重发或人工补单
func (p *DeadLetterPool) logDropped(task DeadLetterTask, err error) {
	logger.Log.Error("死信彻底丢弃",
		zap.String("channel", task.Notification.Channel),
		zap.String("raw", task.Notification.RawPayload),
		zap.Error(err))
}

func (p *DeadLetterPool) Add(n *model.UnmatchedNotification) {
	select {
	case p.TaskQueue <- DeadLetterTask{Notification: n}:
		// 任务入队成功
	default:
		p.logDropped(DeadLetterTask{Notification: n}, nil)
	}
}
