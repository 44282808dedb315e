package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"PCollab/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Options 控制签名与TTL等参数。
type Options struct {
	Secret   []byte        // HMAC 密钥（生产用ENV/KMS）
	Alg      string        // HS256/HS384/HS512（默认 HS256）
	TTL      time.Duration // 令牌有效期（默认 2h）
	Audience string        // 非空时校验 aud
	Leeway   time.Duration // exp/nbf 容忍的时钟偏差
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Claims 与认证服务签发的访问令牌对齐：sub 为用户 UUID
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwtlib.RegisteredClaims
}

// VerifiedAuth 校验通过后的外部身份，只在请求内使用
type VerifiedAuth struct {
	ExternalID string // 规范化后的 UUID 字符串
	Email      string
	Role       string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Generate 签发令牌（测试与本地联调用；生产由认证服务签发）
func Generate(opts Options, userID, email string) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := Claims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(exp),
		},
	}
	if opts.Audience != "" {
		claims.Audience = jwtlib.ClaimStrings{opts.Audience}
	}

	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Authenticator 无网络往返地校验 bearer 凭证
type Authenticator struct {
	opts   Options
	parser *jwtlib.Parser
}

func NewAuthenticator(opts Options) (*Authenticator, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	if len(opts.Secret) == 0 {
		return nil, errs.New("jwt secret is empty")
	}
	parserOpts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{method.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithIssuedAt(),
		jwtlib.WithLeeway(opts.Leeway),
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwtlib.WithAudience(opts.Audience))
	}
	return &Authenticator{opts: opts, parser: jwtlib.NewParser(parserOpts...)}, nil
}

// Authenticate 返回 ErrTokenMalformed / ErrTokenExpired / ErrTokenSignatureInvalid 之一
func (a *Authenticator) Authenticate(credential string) (*VerifiedAuth, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, errs.ErrTokenMalformed.WrapMsg("empty credential")
	}

	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(credential, claims, func(t *jwtlib.Token) (interface{}, error) {
		// 仅允许 HMAC 家族
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return a.opts.Secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	uid, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, errs.ErrTokenMalformed.WrapMsg("subject is not a uuid")
	}

	auth := &VerifiedAuth{
		ExternalID: uid.String(),
		Email:      claims.Email,
		Role:       claims.Role,
	}
	if claims.IssuedAt != nil {
		auth.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		auth.ExpiresAt = claims.ExpiresAt.Time
	}
	return auth, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwtlib.ErrTokenExpired),
		errors.Is(err, jwtlib.ErrTokenNotValidYet),
		errors.Is(err, jwtlib.ErrTokenUsedBeforeIssued):
		return errs.ErrTokenExpired.WrapMsg(err.Error())
	case errors.Is(err, jwtlib.ErrTokenSignatureInvalid),
		errors.Is(err, jwtlib.ErrTokenUnverifiable),
		errors.Is(err, jwtlib.ErrTokenInvalidAudience):
		return errs.ErrTokenSignatureInvalid.WrapMsg(err.Error())
	default:
		return errs.ErrTokenMalformed.WrapMsg(err.Error())
	}
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
