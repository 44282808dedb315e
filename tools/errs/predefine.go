package errs

// 通用
const (
	ServerInternalError = 500
	ArgsError           = 1001
)

// 鉴权 15xx
const (
	TokenError                 = 1500
	TokenMalformedError        = 1501
	TokenExpiredError          = 1502
	TokenSignatureInvalidError = 1503
)

// 身份解析 16xx
const (
	ResolutionError       = 1600
	UserNotFoundError     = 1601
	StoreUnavailableError = 1602
)

// 连接升级 17xx
const (
	UpgradeError           = 1700
	TransportRejectedError = 1701
	SessionClosedError     = 1702
	HubRejectedError       = 1703
)

// 协作 hub 18xx
const (
	CollabError        = 1800
	AccessDeniedError  = 1801
	NotSubscribedError = 1802
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "internal server error")
	ErrArgs           = NewCodeError(ArgsError, "invalid arguments")

	ErrToken                 = NewCodeError(TokenError, "unauthorized")
	ErrTokenMalformed        = NewCodeError(TokenMalformedError, "token malformed")
	ErrTokenExpired          = NewCodeError(TokenExpiredError, "token expired")
	ErrTokenSignatureInvalid = NewCodeError(TokenSignatureInvalidError, "token signature invalid")

	ErrResolution       = NewCodeError(ResolutionError, "identity resolution failed")
	ErrUserNotFound     = NewCodeError(UserNotFoundError, "user not found")
	ErrStoreUnavailable = NewCodeError(StoreUnavailableError, "identity store unavailable")

	ErrUpgrade           = NewCodeError(UpgradeError, "upgrade failed")
	ErrTransportRejected = NewCodeError(TransportRejectedError, "transport rejected")
	ErrSessionClosed     = NewCodeError(SessionClosedError, "session closed")
	ErrHubRejected       = NewCodeError(HubRejectedError, "hub rejected session")

	ErrCollab        = NewCodeError(CollabError, "collaboration error")
	ErrAccessDenied  = NewCodeError(AccessDeniedError, "access denied")
	ErrNotSubscribed = NewCodeError(NotSubscribedError, "not subscribed to object")
)

func init() {
	_ = DefaultCodeRelation.Add(TokenError, TokenMalformedError)
	_ = DefaultCodeRelation.Add(TokenError, TokenExpiredError)
	_ = DefaultCodeRelation.Add(TokenError, TokenSignatureInvalidError)

	_ = DefaultCodeRelation.Add(ResolutionError, UserNotFoundError)
	_ = DefaultCodeRelation.Add(ResolutionError, StoreUnavailableError)

	_ = DefaultCodeRelation.Add(UpgradeError, TransportRejectedError)
	_ = DefaultCodeRelation.Add(UpgradeError, SessionClosedError)
	_ = DefaultCodeRelation.Add(UpgradeError, HubRejectedError)

	_ = DefaultCodeRelation.Add(CollabError, AccessDeniedError)
	_ = DefaultCodeRelation.Add(CollabError, NotSubscribedError)
}
