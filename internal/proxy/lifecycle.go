package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tripcache/tripcache/internal/cache"
	"github.com/tripcache/tripcache/internal/policy"
)

// State 是代理生命周期阶段。
type State int

const (
	StateNew State = iota
	StateInstalling
	StateActivating
	StateServing
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateActivating:
		return "activating"
	case StateServing:
		return "serving"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status 是 /-/status 诊断接口使用的快照。
type Status struct {
	GenerationTag  string   `json:"generation_tag"`
	PendingTag     string   `json:"pending_tag,omitempty"`
	State          string   `json:"state"`
	Stores         []string `json:"stores"`
	StaticManifest []string `json:"static_manifest"`
}

// Install 为 tag 打开三类缓存并预取静态清单。单个资源失败只记录日志，
// 所有失败汇总为返回的 error；安装完成后立即可以激活（不等待旧代际的使用方）。
func (p *Proxy) Install(ctx context.Context, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return errors.New("generation tag required")
	}

	p.mu.Lock()
	p.state = StateInstalling
	p.pendingTag = tag
	p.mu.Unlock()

	logger := p.logger.WithFields(logrus.Fields{"action": "install", "generation_tag": tag})
	logger.Info("install_started")

	stores := make(map[policy.StoreKind]cache.Store, len(policy.StoreKinds))
	var errs []error
	for _, kind := range policy.StoreKinds {
		name := policy.StoreName(kind, tag)
		store, err := p.storage.Open(ctx, name)
		if err != nil {
			logger.WithError(err).WithField("store", name).Warn("install_open_store_failed")
			errs = append(errs, err)
			continue
		}
		stores[kind] = store
	}

	static := stores[policy.StoreStatic]
	precached := 0
	for _, path := range p.engine.StaticManifest() {
		if static == nil {
			break
		}
		u, err := url.Parse(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("static manifest %s: %w", path, err))
			continue
		}
		req := &Request{Method: http.MethodGet, URL: u, Header: http.Header{}}
		resp, err := p.fetcher.Fetch(ctx, req)
		if err != nil {
			logger.WithError(err).WithField("url", path).Warn("install_fetch_failed")
			errs = append(errs, err)
			continue
		}
		if !isStorable(resp.Status) {
			err := fmt.Errorf("static manifest %s: upstream status %d", path, resp.Status)
			logger.WithField("url", path).WithField("upstream_status", resp.Status).Warn("install_fetch_rejected")
			errs = append(errs, err)
			continue
		}
		if err := p.write(ctx, static, cache.NewRequestKey(http.MethodGet, u), resp); err != nil {
			errs = append(errs, err)
			continue
		}
		precached++
	}

	logger.WithFields(logrus.Fields{"precached": precached, "failures": len(errs)}).Info("install_complete")
	return errors.Join(errs...)
}

// Activate 删除所有不属于待激活代际的缓存，然后接管后续请求。
// 持有生命周期写锁，期间不会有请求或国家包任务在旧代际上执行。
func (p *Proxy) Activate(ctx context.Context) error {
	p.mu.Lock()
	tag := p.pendingTag
	if tag == "" {
		p.mu.Unlock()
		return ErrNothingToActivate
	}
	p.state = StateActivating
	p.mu.Unlock()

	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	logger := p.logger.WithFields(logrus.Fields{"action": "activate", "generation_tag": tag})

	keep := make(map[string]struct{}, len(policy.StoreKinds))
	for _, name := range policy.CurrentStoreNames(tag) {
		keep[name] = struct{}{}
	}

	var errs []error
	names, err := p.storage.StoreNames(ctx)
	if err != nil {
		logger.WithError(err).Warn("activate_list_stores_failed")
		errs = append(errs, err)
	}
	deleted := 0
	for _, name := range names {
		if _, ok := keep[name]; ok {
			continue
		}
		if err := p.storage.DeleteStore(ctx, name); err != nil {
			logger.WithError(err).WithField("store", name).Warn("activate_delete_store_failed")
			errs = append(errs, err)
			continue
		}
		deleted++
	}

	p.mu.Lock()
	p.currentTag = tag
	p.pendingTag = ""
	p.state = StateServing
	p.mu.Unlock()

	logger.WithField("deleted_stores", deleted).Info("activate_complete")
	return errors.Join(errs...)
}

// Upgrade 为新 tag 重新执行 Install → Activate。tag 与当前代际相同时不做任何事。
// 安装期间旧代际继续提供服务。
func (p *Proxy) Upgrade(ctx context.Context, tag string) error {
	p.upgradeMu.Lock()
	defer p.upgradeMu.Unlock()

	tag = strings.TrimSpace(tag)
	if tag == "" {
		return errors.New("generation tag required")
	}
	if current, serving := p.servingTag(); serving && current == tag {
		return nil
	}

	installErr := p.Install(ctx, tag)
	if installErr != nil {
		p.logger.WithError(installErr).WithFields(logrus.Fields{
			"action":         "upgrade",
			"generation_tag": tag,
		}).Warn("install_incomplete")
	}
	if err := p.Activate(ctx); err != nil {
		return errors.Join(installErr, err)
	}
	return installErr
}

// State 返回当前生命周期阶段。
func (p *Proxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// GenerationTag 返回正在提供服务的代际，未激活时为空。
func (p *Proxy) GenerationTag() string {
	tag, _ := p.servingTag()
	return tag
}

// Snapshot 汇总生命周期与存储状态。
func (p *Proxy) Snapshot(ctx context.Context) (Status, error) {
	p.mu.Lock()
	status := Status{
		GenerationTag:  p.currentTag,
		PendingTag:     p.pendingTag,
		State:          p.state.String(),
		StaticManifest: p.engine.StaticManifest(),
	}
	p.mu.Unlock()

	names, err := p.storage.StoreNames(ctx)
	if err != nil {
		return status, err
	}
	status.Stores = names
	return status, nil
}

// servingTag 返回提供服务的代际；升级安装期间仍是旧代际。
func (p *Proxy) servingTag() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentTag, p.currentTag != ""
}

// targetTag 是控制命令写入的代际：优先当前代际，首次安装期间使用待激活代际。
func (p *Proxy) targetTag() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentTag != "" {
		return p.currentTag, true
	}
	return p.pendingTag, p.pendingTag != ""
}
