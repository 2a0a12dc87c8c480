package oauth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
)

// NewCallbackListener creates a TCP listener for the authorization redirect
// and returns the redirect URI to hand to the authorization server. If addr
// is empty, a random available port on localhost is used. Only loopback
// addresses are allowed.
func NewCallbackListener(addr, path string) (net.Listener, string, error) {
	if addr == "" {
		addr = "localhost:0"
	}
	if path == "" {
		path = "/callback"
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, "", fmt.Errorf("invalid callback address %q: %w", addr, err)
	}
	if !isLoopback(host) {
		return nil, "", fmt.Errorf("callback address must be loopback (localhost/127.0.0.1/::1), got %q", host)
	}
	if port == "" {
		return nil, "", fmt.Errorf("callback address %q missing port", addr)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}
	redirectURI := fmt.Sprintf("http://%s%s", listener.Addr().String(), path)
	return listener, redirectURI, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type authResult struct {
	code string
	err  error
}

// waitForAuthCallback serves the loopback redirect endpoint until a code
// arrives, the state check fails, or ctx ends. The server is shut down and
// its goroutine joined before returning, so the port is free again by the
// time the token exchange starts.
func waitForAuthCallback(ctx context.Context, listener net.Listener, path, expectedState string) (string, error) {
	if path == "" {
		path = "/callback"
	}

	resultCh := make(chan authResult, 1)
	var once sync.Once

	sendResult := func(r authResult) {
		once.Do(func() {
			resultCh <- r
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("state")
		if subtle.ConstantTimeCompare([]byte(got), []byte(expectedState)) != 1 {
			sendResult(authResult{err: fmt.Errorf("state mismatch")})
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}

		if errParam := r.URL.Query().Get("error"); errParam != "" {
			errDesc := r.URL.Query().Get("error_description")
			sendResult(authResult{err: fmt.Errorf("authorization error: %s: %s", errParam, errDesc)})
			http.Error(w, errDesc, http.StatusBadRequest)
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			sendResult(authResult{err: fmt.Errorf("no authorization code received")})
			http.Error(w, "no authorization code received", http.StatusBadRequest)
			return
		}

		sendResult(authResult{code: code})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "<html><body>Authentication successful! You can close this window.</body></html>")
	})

	server := &http.Server{Handler: mux}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			sendResult(authResult{err: fmt.Errorf("callback server failed: %w", err)})
		}
	}()

	var result authResult
	select {
	case <-ctx.Done():
		result = authResult{err: ctx.Err()}
	case result = <-resultCh:
	}

	_ = server.Shutdown(context.Background())
	wg.Wait()

	if result.err != nil {
		return "", result.err
	}
	return result.code, nil
}

// OpenBrowser launches the system browser at url. Used as the default
// authorization prompt; callers needing a different UX supply their own
// AuthURLHandler.
func OpenBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
