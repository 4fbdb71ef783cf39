package stream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"jellyswarrm/internal/jerrors"
)

// redirectBasePath is where the HTTP front mounts ServeRedirectToken; the
// router is responsible for wiring this exact path to it.
const redirectBasePath = "/stream/redirect"

// Dispatch serves one playback request for (serverURL, backendPath),
// authenticated with accessToken, in whichever mode the proxy is
// configured for.
func (d *Dispatcher) Dispatch(w http.ResponseWriter, r *http.Request, serverURL, backendPath, accessToken string) error {
	if d.mode == ModeProxy {
		return d.ServeProxy(w, r, serverURL, backendPath, accessToken)
	}
	token, err := d.signRedirect(serverURL, backendPath, accessToken)
	if err != nil {
		return jerrors.Config("signing stream redirect", err)
	}
	http.Redirect(w, r, redirectBasePath+"?token="+url.QueryEscape(token), http.StatusFound)
	return nil
}

// ServeRedirectToken handles the second hop of redirect mode: verify the
// signed token and 302 straight to the backend, so no media bytes ever
// transit the proxy (spec §4.7 "Preferred; zero proxy bandwidth").
func (d *Dispatcher) ServeRedirectToken(w http.ResponseWriter, r *http.Request, token string) error {
	claims, err := d.verifyRedirect(token)
	if err != nil {
		return jerrors.Unauthorized("invalid or expired stream redirect token")
	}
	backendURL := strings.TrimRight(claims.ServerURL, "/") + claims.BackendPath
	q := url.Values{"api_key": []string{claims.AccessToken}}
	sep := "?"
	if strings.Contains(backendURL, "?") {
		sep = "&"
	}
	http.Redirect(w, r, backendURL+sep+q.Encode(), http.StatusFound)
	return nil
}

// ServeProxy streams the backend response through the proxy, preserving
// Range/Content-Range/Content-Length/Accept-Ranges, and rewrites HLS
// playlists so segment URIs route back through the proxy instead of
// pointing the client at the backend directly (spec §4.7). Grounded on
// the standard library's net/http/httputil.ReverseProxy — the idiomatic
// Go way to proxy streamed bytes, since no example repo in the pack
// proxies media with range support.
func (d *Dispatcher) ServeProxy(w http.ResponseWriter, r *http.Request, serverURL, backendPath, accessToken string) error {
	target, err := url.Parse(strings.TrimRight(serverURL, "/") + backendPath)
	if err != nil {
		return jerrors.Config("parsing backend stream URL", err)
	}

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL = target
			req.Host = target.Host
			req.Header.Set("X-Emby-Token", accessToken)
			// Range is already present on req.Header from the inbound
			// request (http.Request copies headers verbatim); nothing
			// else to forward.
		},
		ModifyResponse: func(resp *http.Response) error {
			if isHLSPlaylist(resp.Header.Get("Content-Type"), backendPath) {
				return rewritePlaylistBody(resp, serverURL)
			}
			return nil
		},
	}

	// ReverseProxy forwards r.Context() to the outbound request; when the
	// client disconnects, net/http cancels that context and the backend
	// read is aborted within the next chunk, satisfying spec §8 scenario 6.
	proxy.ServeHTTP(w, r)
	return nil
}

func isHLSPlaylist(contentType, path string) bool {
	return strings.Contains(contentType, "mpegurl") || strings.HasSuffix(path, ".m3u8")
}

// rewritePlaylistBody rewrites every segment URI line in an HLS playlist
// to route back through the proxy's playback-proxy path, carrying the
// owning backend's URL along so the segment request can be dispatched
// without a second id lookup.
func rewritePlaylistBody(resp *http.Response, serverURL string) error {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}

	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}
		out.WriteString(fmt.Sprintf("/stream/segment?server=%s&path=%s\n", url.QueryEscape(serverURL), url.QueryEscape(line)))
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	resp.Body = io.NopCloser(&out)
	resp.ContentLength = int64(out.Len())
	resp.Header.Set("Content-Length", fmt.Sprintf("%d", out.Len()))
	return nil
}
