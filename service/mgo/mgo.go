package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"PCollab/logger"
	"PCollab/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
)

// MongoManager 后台连接/健康检查/掉线重连；业务侧用 TryGetDB，不会阻塞在 mongo 上
type MongoManager struct {
	mu        sync.RWMutex
	client    *Client
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // error
	stopped chan struct{}
}

func NewManager() *MongoManager {
	return &MongoManager{readyCh: make(chan struct{}), stopped: make(chan struct{})}
}

// StartAsync 一直运行到 ctx.Done()；首次连上时 close readyCh，后续掉线会自动重连
func (m *MongoManager) StartAsync(ctx context.Context, cfg *Config) {
	go func() {
		defer close(m.stopped)
		const (
			baseBackoff = 200 * time.Millisecond
			maxBackoff  = 5 * time.Second
			healthEvery = 10 * time.Second // 健康检查周期
			failThresh  = 3                // 连续失败阈值
		)

		for {
			// ===== 连接阶段（带退避重试） =====
			attempt := 0
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				cli, err := NewMongoDB(ctx, cfg)
				if err == nil {
					m.mu.Lock()
					m.client = cli
					m.mu.Unlock()
					m.readyOnce.Do(func() { close(m.readyCh) })
					logger.Infof("[Mongo] connected database=%s", cfg.Database)
					break
				}

				m.lastErr.Store(err)
				logger.Warnf("[Mongo] connect failed attempt=%d err=%v", attempt, err)

				// 退避 + 抖动
				backoff := baseBackoff << attempt
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				jitter := time.Duration(rand.Int63n(int64(backoff / 5))) // 0~20%
				timer := time.NewTimer(backoff - jitter/2)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
				if attempt < 6 {
					attempt++
				}
			}

			// ===== 健康检查阶段（保持/掉线→重连）=====
			if !m.healthLoop(ctx, healthEvery, failThresh) {
				return
			}
		}
	}()
}

// healthLoop 返回 false 表示 ctx 结束；true 表示掉线需要重连
func (m *MongoManager) healthLoop(ctx context.Context, every time.Duration, failThresh int) bool {
	fail := 0
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-t.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return true
			}
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.GetDB().Client().Ping(pingCtx, nil)
			cancel()
			if err == nil {
				fail = 0
				continue
			}
			fail++
			m.lastErr.Store(err)
			if fail >= failThresh {
				logger.Warnf("[Mongo] ping failed %d times, reconnecting: %v", fail, err)
				m.drop()
				return true
			}
		}
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Disconnect(context.Background())
		m.client = nil
	}
}

// Ready 首次连接成功时会 close；可 select 等待
func (m *MongoManager) Ready() <-chan struct{} { return m.readyCh }

// Stopped StartAsync 的后台协程退出后关闭
func (m *MongoManager) Stopped() <-chan struct{} { return m.stopped }

// Err 最近一次错误
func (m *MongoManager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (m *MongoManager) TryGetDB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, false
	}
	return m.client.GetDB(), true
}

// WaitReady 已就绪立刻返回
func (m *MongoManager) WaitReady(ctx context.Context) error {
	if _, ok := m.TryGetDB(); ok {
		return nil
	}
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return errs.WrapMsg(ctx.Err(), "wait mongo ready")
	}
}
