package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/any-hub/asset-hub/internal/asseterr"
	"github.com/any-hub/asset-hub/internal/config"
	"github.com/any-hub/asset-hub/internal/version"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewClient 返回共享 http.Client，用于所有资源下载。
func NewClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.DownloadTimeout.DurationValue() > 0 {
		timeout = cfg.Global.DownloadTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// HTTPFetcher 通过 GET 拉取 http/https 资源，仅 200 视为成功。
type HTTPFetcher struct {
	Client *http.Client
}

// Open 发起请求并返回响应体与 Content-Length（未知时为 -1）。
func (f *HTTPFetcher) Open(ctx context.Context, req Request) (io.ReadCloser, int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, 0, permanent(asseterr.Wrap(asseterr.KindNetwork, "transport.http", req.URL, err))
	}
	httpReq.Header.Set("User-Agent", version.UserAgent())
	for key, value := range req.Header {
		if isHopByHopHeader(key) {
			continue
		}
		httpReq.Header.Set(key, value)
	}

	client := f.Client
	if client == nil {
		client = NewClient(nil)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, asseterr.Wrap(asseterr.KindNetwork, "transport.http", req.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		statusErr := asseterr.New(asseterr.KindNetwork, "transport.http", req.URL,
			fmt.Sprintf("unexpected status %d", resp.StatusCode))
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
			return nil, 0, permanent(statusErr)
		}
		return nil, 0, statusErr
	}
	return resp.Body, resp.ContentLength, nil
}

// hopByHopHeaders 定义 RFC 7230 中不应由调用方设置的逐跳头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

func isHopByHopHeader(key string) bool {
	canonical := textproto.CanonicalMIMEHeaderKey(key)
	if _, ok := hopByHopHeaders[canonical]; ok {
		return true
	}

	return false
}
