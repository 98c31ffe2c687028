package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// blockedNetworks は外部への接続やプロフィール画像URLとして許可しないネットワーク範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	// クラウドメタデータ (169.254.169.254) を含む
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

// OutboundGuard は外部IdPへの通信と、ユーザーが指定するURLの安全性を担保する。
type OutboundGuard struct{}

// NewOutboundGuard はOutboundGuardを生成する。
func NewOutboundGuard() *OutboundGuard {
	return &OutboundGuard{}
}

// NewSafeClient はOAuthのトークン交換とユーザー情報取得に使うHTTPクライアントを生成する。
// safeurlがDNS解決後の接続先IPを検証するため、プライベート・ループバック宛の通信は失敗する。
func (g *OutboundGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はプロフィール画像URLを静的に検証する。httpsのみ許可する。
// DNS解決は行わない。画像はブラウザが直接取得するため、サーバー側から接続することはない。
func (g *OutboundGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("empty URL")
	}
	if len(rawURL) > 2048 {
		return errors.New("URL is too long")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("disallowed scheme: %q", parsed.Scheme)
	}
	if parsed.User != nil {
		return errors.New("credentials in URL are not allowed")
	}

	host := parsed.Hostname()
	if host == "" {
		return errors.New("empty host")
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip)
			}
		}
	}
	return nil
}
