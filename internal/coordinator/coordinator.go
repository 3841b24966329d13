// Package coordinator 是前台一侧的国家包协调器：维护每个国家包的下载状态，
// 通过 control.Channel 向代理发送命令，并在失败时产生可重试的告警。
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tripcache/tripcache/internal/control"
	"github.com/tripcache/tripcache/internal/logging"
	"github.com/tripcache/tripcache/internal/policy"
)

// PackStatus 是前台看到的国家包状态。downloading 与 deleting 只在命令执行期间出现。
type PackStatus string

const (
	StatusAbsent      PackStatus = "absent"
	StatusDownloading PackStatus = "downloading"
	StatusDownloaded  PackStatus = "downloaded"
	StatusDeleting    PackStatus = "deleting"
)

// Transient 报告状态是否属于尚未收到响应的命令。
func (s PackStatus) Transient() bool {
	return s == StatusDownloading || s == StatusDeleting
}

// PackState 是单个国家包的快照。
type PackState struct {
	Country   string     `yaml:"country" json:"country"`
	Status    PackStatus `yaml:"status" json:"status"`
	UpdatedAt time.Time  `yaml:"updated_at" json:"updated_at"`
}

// Alert 是失败操作留给用户的提示。
type Alert struct {
	ID      string    `json:"id"`
	Country string    `json:"country"`
	Message string    `json:"message"`
	Retry   string    `json:"retry"`
	Time    time.Time `json:"time"`
}

// PackError 描述一次失败的国家包操作。
type PackError struct {
	Op      string
	Country string
	Err     error
}

func (e *PackError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Country, e.Err)
}

func (e *PackError) Unwrap() error {
	return e.Err
}

// Options 描述 Coordinator 的依赖。
type Options struct {
	Channel   control.Channel
	StatePath string
	Logger    *logrus.Logger
	Clock     func() time.Time
	// OnAlert 在产生告警时同步回调，可为空。
	OnAlert func(Alert)
}

// Coordinator 串行化本地状态变更，命令本身并发发送。
type Coordinator struct {
	channel control.Channel
	state   *stateFile
	logger  *logrus.Logger
	now     func() time.Time
	onAlert func(Alert)

	mu     sync.Mutex
	packs  map[string]PackState
	alerts []Alert
}

// New 构建 Coordinator；StatePath 非空时加载已持久化的状态。
func New(opts Options) (*Coordinator, error) {
	if opts.Channel == nil {
		return nil, errors.New("control channel is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	c := &Coordinator{
		channel: opts.Channel,
		logger:  opts.Logger,
		now:     opts.Clock,
		onAlert: opts.OnAlert,
		packs:   make(map[string]PackState),
	}
	if opts.StatePath != "" {
		c.state = &stateFile{path: opts.StatePath}
		packs, err := c.state.load()
		if err != nil {
			return nil, err
		}
		for _, pack := range packs {
			// 上次退出时未完成的命令，包内容不完整，视为不存在
			if pack.Status.Transient() {
				pack.Status = StatusAbsent
			}
			c.packs[pack.Country] = pack
		}
	}
	return c, nil
}

// Download 请求代理下载国家包。
func (c *Coordinator) Download(ctx context.Context, code string) error {
	return c.run(ctx, "download", code, control.TypeDownloadPack, StatusDownloading, StatusDownloaded)
}

// Delete 请求代理删除国家包。
func (c *Coordinator) Delete(ctx context.Context, code string) error {
	return c.run(ctx, "delete", code, control.TypeDeletePack, StatusDeleting, StatusAbsent)
}

func (c *Coordinator) run(ctx context.Context, op, code string, kind control.Type, pending, done PackStatus) error {
	pack, err := policy.ParsePackID(code)
	if err != nil {
		return c.fail(op, code, err)
	}
	country := pack.String()
	previous := c.transition(country, pending)

	fields := logging.ControlFields(string(kind), country)
	reply, err := c.channel.Post(ctx, control.Message{Type: kind, CountryISO2: country})
	if err == nil {
		err = reply.Err()
	}
	if err == nil && reply.Success == nil {
		err = errors.New("reply carries no result")
	}
	if err != nil {
		c.restore(country, previous)
		c.logger.WithFields(fields).WithError(err).Warn("pack_command_failed")
		return c.fail(op, country, err)
	}

	c.transition(country, done)
	c.logger.WithFields(fields).Info("pack_command_complete")
	return c.persist()
}

// Usage 返回代理报告的存储占用（字节）。
func (c *Coordinator) Usage(ctx context.Context) (int64, error) {
	reply, err := c.channel.Post(ctx, control.Message{Type: control.TypeGetCacheSize})
	if err != nil {
		return 0, err
	}
	if reply.Size == nil {
		return 0, errors.New("reply carries no size")
	}
	return *reply.Size, nil
}

// Status 返回国家包状态，未知国家为 absent。
func (c *Coordinator) Status(code string) PackStatus {
	pack, err := policy.ParsePackID(code)
	if err != nil {
		return StatusAbsent
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.packs[pack.String()]; ok {
		return state.Status
	}
	return StatusAbsent
}

// Snapshot 返回按国家代码排序的全部已知状态。
func (c *Coordinator) Snapshot() []PackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Alerts 返回至今产生的告警副本。
func (c *Coordinator) Alerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

func (c *Coordinator) snapshotLocked() []PackState {
	states := make([]PackState, 0, len(c.packs))
	for _, state := range c.packs {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].Country < states[j].Country
	})
	return states
}

// transition 设置新状态并返回旧状态（不存在时 ok=false）。
func (c *Coordinator) transition(country string, status PackStatus) previousState {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.packs[country]
	c.packs[country] = PackState{Country: country, Status: status, UpdatedAt: c.now()}
	return previousState{state: prev, ok: ok}
}

type previousState struct {
	state PackState
	ok    bool
}

func (c *Coordinator) restore(country string, prev previousState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !prev.ok {
		delete(c.packs, country)
		return
	}
	c.packs[country] = prev.state
}

func (c *Coordinator) fail(op, country string, err error) error {
	alert := Alert{
		ID:      uuid.NewString(),
		Country: country,
		Message: fmt.Sprintf("Could not %s the %s pack: %v", op, country, err),
		Retry:   fmt.Sprintf("tripcachectl pack %s %s", op, country),
		Time:    c.now(),
	}
	c.mu.Lock()
	c.alerts = append(c.alerts, alert)
	c.mu.Unlock()
	if c.onAlert != nil {
		c.onAlert(alert)
	}
	return &PackError{Op: op, Country: country, Err: err}
}

func (c *Coordinator) persist() error {
	if c.state == nil {
		return nil
	}
	c.mu.Lock()
	states := c.snapshotLocked()
	c.mu.Unlock()
	return c.state.save(states)
}
