package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tripcache/tripcache/internal/cache"
	"github.com/tripcache/tripcache/internal/control"
	"github.com/tripcache/tripcache/internal/logging"
	"github.com/tripcache/tripcache/internal/policy"
)

// Send 投递控制命令，不等待结果；响应通过 cmd.Reply 返回。
func (p *Proxy) Send(cmd control.Command) {
	_, _ = p.Dispatch(context.Background(), Event{Kind: EventMessage, Command: cmd})
}

// Post 实现 control.Channel：投递命令并等待唯一响应。ctx 取消只影响等待，
// 不会中断已开始的任务。
func (p *Proxy) Post(ctx context.Context, msg control.Message) (control.Reply, error) {
	cmd, replies := control.NewCommand(msg)
	p.Send(cmd)
	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return control.Reply{}, ctx.Err()
	}
}

// startJob 在独立 goroutine 中执行命令，使用与调用方解耦的 context。
func (p *Proxy) startJob(cmd control.Command) {
	p.jobs.Add(1)
	go func() {
		defer p.jobs.Done()
		p.runJob(context.Background(), cmd)
	}()
}

func (p *Proxy) runJob(ctx context.Context, cmd control.Command) {
	started := time.Now()
	fields := logging.ControlFields(string(cmd.Message.Type), cmd.Message.CountryISO2)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			p.logger.WithFields(fields).WithError(err).Error("control_job_panic")
			cmd.Respond(control.ErrorReply(cmd.Message, err))
		}
	}()

	reply := p.execute(ctx, cmd.Message)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err := reply.Err(); err != nil {
		p.logger.WithFields(fields).WithError(err).Warn("control_job_failed")
	} else {
		p.logger.WithFields(fields).Info("control_job_complete")
	}
	cmd.Respond(reply)
}

func (p *Proxy) execute(ctx context.Context, msg control.Message) control.Reply {
	if err := msg.Validate(); err != nil {
		return control.ErrorReply(msg, err)
	}
	switch msg.Type {
	case control.TypeDownloadPack:
		return control.PackReply(msg.CountryISO2, p.downloadPack(ctx, msg.CountryISO2))
	case control.TypeDeletePack:
		return control.PackReply(msg.CountryISO2, p.deletePack(ctx, msg.CountryISO2))
	case control.TypeGetCacheSize:
		return control.SizeReply(p.storageUsage(ctx))
	default:
		return control.ErrorReply(msg, &control.ProtocolError{Type: msg.Type, Reason: "unknown message type"})
	}
}

// packStore 解析国家代码并打开当前代际的 country-packs 缓存。
// 调用方需持有生命周期读锁直到不再写入该 Store，Activate 因此不会在任务中途删掉它。
func (p *Proxy) packStore(ctx context.Context, raw string) (policy.PackID, cache.Store, error) {
	pack, err := policy.ParsePackID(raw)
	if err != nil {
		return "", nil, err
	}
	tag, ok := p.targetTag()
	if !ok {
		return "", nil, ErrNoGeneration
	}
	store, err := p.storage.Open(ctx, policy.StoreName(policy.StorePacks, tag))
	if err != nil {
		return "", nil, err
	}
	return pack, store, nil
}

// downloadPack 并发拉取国家包的全部资源，2xx 打时间戳写入 country-packs。
// 单个资源失败只记录日志，不影响任务结果。
func (p *Proxy) downloadPack(ctx context.Context, raw string) error {
	p.lifecycle.RLock()
	defer p.lifecycle.RUnlock()

	pack, store, err := p.packStore(ctx, raw)
	if err != nil {
		return err
	}

	resources := p.catalog.PackResources(pack)
	logger := p.logger.WithFields(logrus.Fields{"action": "download_pack", "country": pack.String(), "store": store.Name()})

	var stored atomic.Int32
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, resource := range resources {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.WithField("url", resource).WithError(fmt.Errorf("panic: %v", r)).Error("pack_fetch_panic")
				}
			}()
			u, err := url.Parse(resource)
			if err != nil {
				logger.WithError(err).WithField("url", resource).Warn("pack_resource_invalid")
				return nil
			}
			resp, err := p.fetcher.Fetch(ctx, &Request{Method: http.MethodGet, URL: u, Header: http.Header{}})
			if err != nil {
				logger.WithError(err).WithField("url", resource).Warn("pack_fetch_failed")
				return nil
			}
			if !isStorable(resp.Status) {
				logger.WithFields(logrus.Fields{"url": resource, "upstream_status": resp.Status}).Warn("pack_fetch_rejected")
				return nil
			}
			if err := p.write(ctx, store, cache.NewRequestKey(http.MethodGet, u), resp); err == nil {
				stored.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.WithFields(logrus.Fields{"resources": len(resources), "stored": stored.Load()}).Info("pack_download_settled")
	return nil
}

// deletePack 删除 country-packs 中全部属于该国家包的条目。
func (p *Proxy) deletePack(ctx context.Context, raw string) error {
	p.lifecycle.RLock()
	defer p.lifecycle.RUnlock()

	pack, store, err := p.packStore(ctx, raw)
	if err != nil {
		return err
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		return err
	}

	logger := p.logger.WithFields(logrus.Fields{"action": "delete_pack", "country": pack.String(), "store": store.Name()})
	deleted := 0
	var errs []error
	for _, key := range keys {
		if !p.catalog.Matches(pack, key.URL) {
			continue
		}
		existed, err := store.Delete(ctx, key)
		if err != nil {
			logger.WithError(err).WithField("key", key.String()).Warn("pack_entry_delete_failed")
			errs = append(errs, err)
			continue
		}
		if existed {
			deleted++
		}
	}
	logger.WithField("deleted", deleted).Info("pack_delete_complete")
	if len(errs) > 0 && deleted == 0 {
		return errors.Join(errs...)
	}
	return nil
}

// storageUsage 返回存储占用估算；后端不支持或出错时为 0。只读，不修改任何 Store。
func (p *Proxy) storageUsage(ctx context.Context) int64 {
	estimator, ok := p.storage.(cache.UsageEstimator)
	if !ok {
		return 0
	}
	size, err := estimator.Usage(ctx)
	if err != nil {
		p.logger.WithError(err).WithField("action", "storage_usage").Warn("storage_usage_failed")
		return 0
	}
	return size
}
