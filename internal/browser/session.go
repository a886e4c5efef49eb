package browser

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	crawlerrors "github.com/PentesterFlow/webcrawler/internal/errors"
	"github.com/PentesterFlow/webcrawler/internal/identity"
	"github.com/PentesterFlow/webcrawler/pkg/page"
)

// stealthJS hides the usual headless fingerprints on every new document.
var stealthJS = stealth.JS

// Session is a page inside its own browser context. Close releases both.
type Session interface {
	page.RenderedPage
	Close() error
}

// Opener creates sessions. *Engine is the production implementation.
type Opener interface {
	Open(ctx context.Context, id identity.Identity) (Session, error)
}

type rodSession struct {
	engine    *Engine
	page      *rod.Page
	contextID proto.BrowserBrowserContextID
	timeout   time.Duration
	stopAuth  func()

	mu     sync.Mutex
	closed bool
}

// Navigate loads url and waits for the readiness event.
func (s *rodSession) Navigate(ctx context.Context, url string, ready page.Readiness) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	p := s.page.Context(ctx)
	wait := p.WaitNavigation(lifecycleEvent(ready))
	if err := p.Navigate(url); err != nil {
		return crawlerrors.NewNavigationError(url, err)
	}
	wait()

	if err := ctx.Err(); err != nil {
		return crawlerrors.NewNavigationError(url, err)
	}
	return nil
}

// Evaluate runs a function expression in the page.
func (s *rodSession) Evaluate(ctx context.Context, script string) (interface{}, error) {
	res, err := s.page.Context(ctx).Eval(script)
	if err != nil {
		return nil, err
	}
	return res.Value.Val(), nil
}

// CurrentURL returns the page URL after redirects.
func (s *rodSession) CurrentURL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// Title returns the document title.
func (s *rodSession) Title(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

// HTML returns the serialized DOM.
func (s *rodSession) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

// Screenshot captures the viewport as PNG.
func (s *rodSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(false, nil)
}

// Close closes the page and disposes its browser context.
func (s *rodSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.stopAuth != nil {
		s.stopAuth()
	}
	_ = s.page.Close()
	return proto.TargetDisposeBrowserContext{BrowserContextID: s.contextID}.Call(s.engine.browser)
}

// answerProxyAuth makes tab answer proxy challenges with the credentials of
// proxy until the returned stop func is called. Fetch interception covers
// only this tab, so every paused request is continued.
func answerProxyAuth(tab *rod.Page, proxy identity.Proxy) (func(), error) {
	p, cancel := tab.WithCancel()

	wait := p.EachEvent(
		func(e *proto.FetchRequestPaused) {
			_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(p)
		},
		func(e *proto.FetchAuthRequired) {
			_ = proto.FetchContinueWithAuth{
				RequestID:             e.RequestID,
				AuthChallengeResponse: proxyCredentials(e.AuthChallenge, proxy),
			}.Call(p)
		},
	)

	if err := (proto.FetchEnable{HandleAuthRequests: true}).Call(p); err != nil {
		cancel()
		return nil, err
	}
	go wait()

	return cancel, nil
}

// proxyCredentials answers proxy challenges with the proxy's credentials
// and lets the browser handle challenges from origin servers.
func proxyCredentials(challenge *proto.FetchAuthChallenge, proxy identity.Proxy) *proto.FetchAuthChallengeResponse {
	if challenge == nil || challenge.Source != proto.FetchAuthChallengeSourceProxy {
		return &proto.FetchAuthChallengeResponse{
			Response: proto.FetchAuthChallengeResponseResponseDefault,
		}
	}
	return &proto.FetchAuthChallengeResponse{
		Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
		Username: proxy.Username,
		Password: proxy.Password,
	}
}

// lifecycleEvent maps a readiness condition to the CDP lifecycle event.
func lifecycleEvent(ready page.Readiness) proto.PageLifecycleEventName {
	switch ready {
	case page.Load:
		return proto.PageLifecycleEventNameLoad
	case page.NetworkIdle:
		return proto.PageLifecycleEventNameNetworkIdle
	default:
		return proto.PageLifecycleEventNameDOMContentLoaded
	}
}

// networkHeaders converts request headers for CDP. Headers the browser
// manages itself are dropped.
func networkHeaders(headers map[string]string) proto.NetworkHeaders {
	out := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		switch http.CanonicalHeaderKey(k) {
		case "User-Agent", "Connection", "Accept-Encoding", "Host", "Content-Length":
			continue
		}
		out[k] = gson.New(v)
	}
	return out
}
