package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ParseTrustedProxies はカンマ区切りのCIDRまたはIPアドレスを解析する。
// 単独のIPアドレスは/32（IPv6は/128）として扱う。
func ParseTrustedProxies(s string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			ip := net.ParseIP(part)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy address: %q", part)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(part)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy CIDR %q: %w", part, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// NewClientIPMiddleware は信頼済みプロキシからの接続に限り、X-Forwarded-ForからクライアントIPを求めて
// RemoteAddrを書き換えるミドルウェアを返す。
// X-Forwarded-Forは右から辿り、信頼済みプロキシ以外で最初に現れたアドレスを採用する。
// trustedが空の場合は転送ヘッダーを一切参照しない。
func NewClientIPMiddleware(trusted []*net.IPNet) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if peer := net.ParseIP(clientIP(r)); peer != nil && containsIP(trusted, peer) {
				if ip := forwardedClientIP(r.Header.Values("X-Forwarded-For"), trusted); ip != nil {
					r.RemoteAddr = net.JoinHostPort(ip.String(), "0")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedClientIP はX-Forwarded-Forの右端から信頼済みプロキシを除いた最初のアドレスを返す。
// 不正な値に当たった場合はそれ以上辿らない。
func forwardedClientIP(headers []string, trusted []*net.IPNet) net.IP {
	var hops []string
	for _, h := range headers {
		hops = append(hops, strings.Split(h, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(hops[i]))
		if ip == nil {
			return nil
		}
		if !containsIP(trusted, ip) {
			return ip
		}
	}
	return nil
}

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
