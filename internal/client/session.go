package client

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

const (
	// RefreshLead 是在 access token 过期前多久换新。
	RefreshLead = time.Minute

	minRefreshDelay     = time.Second
	unknownExpiryPeriod = 5 * time.Minute
)

// AccessExpiry 读取 access token 的 exp。签名由服务端校验，这里只看时间。
func (c *Client) AccessExpiry() (time.Time, bool) {
	at := c.Tokens().AccessToken
	if at == "" {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(at, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (c *Client) refreshDelay(lead time.Duration) time.Duration {
	exp, ok := c.AccessExpiry()
	if !ok {
		return unknownExpiryPeriod
	}
	d := time.Until(exp) - lead
	if d < minRefreshDelay {
		d = minRefreshDelay
	}
	return d
}

// KeepFresh 在 access token 过期前 lead 换一对新 token，直到 ctx 结束。
// 每次到期只刷新一次，失败时返回错误。
func (c *Client) KeepFresh(ctx context.Context, lead time.Duration) error {
	timer := time.NewTimer(c.refreshDelay(lead))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		if err := c.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		next := c.refreshDelay(lead)
		log.Debug().Dur("next", next).Msg("session refreshed")
		timer.Reset(next)
	}
}
