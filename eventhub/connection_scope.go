package eventhub

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultCloseTimeout = 30 * time.Second

// ScopeSettings configures a ConnectionScope. Endpoint, EntityName,
// Transport, Proxy, and Identifier form the immutable scope identity; the
// remaining fields tune collaborators and renewal policy.
type ScopeSettings struct {
	Endpoint   *url.URL
	EntityName string
	Transport  TransportKind
	Proxy      *url.URL
	Identifier string

	Credential TokenCredential
	Dialer     Dialer
	Authorizer ClaimsAuthorizer

	// RefreshFraction is the fraction of a token's remaining validity
	// after which authorization is renewed. Must be in (0, 1).
	RefreshFraction float64

	// MinimumRefresh is the shortest wait between renewal attempts, and
	// the retry wait after a failed renewal.
	MinimumRefresh time.Duration

	// IdleTimeout is passed through to the transport connection.
	IdleTimeout time.Duration

	Logger *zap.Logger
}

func defaultScopeSettings() ScopeSettings {
	return ScopeSettings{
		RefreshFraction: 0.85,
		MinimumRefresh:  30 * time.Second,
		IdleTimeout:     time.Minute,
	}
}

func normalizeScopeSettings(settings ScopeSettings) ScopeSettings {
	normalized := settings
	defaults := defaultScopeSettings()
	if normalized.RefreshFraction <= 0 || normalized.RefreshFraction >= 1 {
		normalized.RefreshFraction = defaults.RefreshFraction
	}
	if normalized.MinimumRefresh <= 0 {
		normalized.MinimumRefresh = defaults.MinimumRefresh
	}
	if normalized.IdleTimeout <= 0 {
		normalized.IdleTimeout = defaults.IdleTimeout
	}
	if normalized.Identifier == "" {
		normalized.Identifier = uuid.NewString()
	}
	if normalized.Logger == nil {
		normalized.Logger = zap.NewNop()
	}
	if normalized.Dialer == nil {
		normalized.Dialer = NewAmqpDialer()
	}
	return normalized
}

// ConnectionScope owns the shared AMQP connection for one logical client and
// every link opened through it. Links are multiplexed over the shared
// connection: a management link plus one consumer link per partition the
// caller reads from. The scope keeps each link's authorization valid until
// the link closes or the scope itself is closed.
type ConnectionScope struct {
	settings   ScopeSettings
	refresher  *TokenRefresher
	authorizer ClaimsAuthorizer
	connection *FaultTolerantConnection
	registry   *linkRegistry

	shutdownCtx context.Context
	shutdown    context.CancelFunc
	disposed    atomic.Bool

	handlerLock  sync.Mutex
	errorHandler func(err error)

	log *zap.Logger
}

// NewConnectionScope returns a new ConnectionScope for the given settings.
// The scope is created once per client lifetime and must be closed exactly
// once when the client is done.
func NewConnectionScope(settings ScopeSettings) *ConnectionScope {
	normalized := normalizeScopeSettings(settings)
	shutdownCtx, shutdown := context.WithCancel(context.Background())

	scope := &ConnectionScope{
		settings:    normalized,
		refresher:   NewTokenRefresher(normalized.Credential),
		registry:    newLinkRegistry(),
		shutdownCtx: shutdownCtx,
		shutdown:    shutdown,
		log:         normalized.Logger,
	}

	scope.authorizer = normalized.Authorizer
	if scope.authorizer == nil {
		scope.authorizer = NewCbsAuthorizer(scope.refresher)
	}

	scope.connection = newFaultTolerantConnection(shutdownCtx, func(dialCtx context.Context) (Connection, error) {
		return normalized.Dialer.Dial(dialCtx, ConnectionConfig{
			Endpoint:    normalized.Endpoint,
			Transport:   normalized.Transport,
			Proxy:       normalized.Proxy,
			Identifier:  normalized.Identifier,
			IdleTimeout: normalized.IdleTimeout,
		})
	})

	return scope
}

// Identifier returns the scope's client identifier.
func (scope *ConnectionScope) Identifier() string {
	if scope == nil {
		return ""
	}
	return scope.settings.Identifier
}

// ActiveLinks returns the number of links currently tracked by the scope.
func (scope *ConnectionScope) ActiveLinks() int {
	if scope == nil {
		return 0
	}
	return scope.registry.size()
}

// SetErrorHandler sets the handler invoked when a background authorization
// renewal fails. The handler may run from timer goroutines and must be
// thread-safe.
func (scope *ConnectionScope) SetErrorHandler(handler func(err error)) *ConnectionScope {
	if scope == nil {
		return scope
	}
	scope.handlerLock.Lock()
	scope.errorHandler = handler
	scope.handlerLock.Unlock()
	return scope
}

func (scope *ConnectionScope) managementAddress() string {
	return scope.settings.EntityName + "/$management"
}

func (scope *ConnectionScope) consumerAddress(consumerGroup string, partitionID string) string {
	return scope.settings.EntityName + "/ConsumerGroups/" + consumerGroup + "/Partitions/" + partitionID
}

// resourceURI composes the token audience for a node address from the scope
// endpoint.
func (scope *ConnectionScope) resourceURI(address string) string {
	audience := *scope.settings.Endpoint
	audience.Path = "/" + address
	return audience.String()
}

func (scope *ConnectionScope) guardOpen(ctx context.Context) error {
	if scope.disposed.Load() {
		return NewError(ObjectDisposedError, "connection scope is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// operationContext derives the context an open operation runs under: it is
// cancelled by the caller's context, by the timeout budget when one is
// given, and by scope shutdown.
func (scope *ConnectionScope) operationContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var opCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		opCtx, cancel = context.WithCancel(ctx)
	}

	stop := context.AfterFunc(scope.shutdownCtx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// translateContextError distinguishes the three ways an operation context
// ends: caller cancellation surfaces raw, scope disposal surfaces as
// ObjectDisposedError, and an exhausted timeout budget as TimedOutError.
func (scope *ConnectionScope) translateContextError(callerCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if callerCtx.Err() != nil {
		return err
	}
	if errors.Is(err, context.Canceled) && scope.disposed.Load() {
		return NewError(ObjectDisposedError, "connection scope was closed during the operation")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(TimedOutError, "operation did not complete within the timeout")
	}
	return err
}

func (scope *ConnectionScope) attachError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return NewError(LinkAttachError, err)
}

// OpenManagementLink opens a management link over the shared connection,
// authorizing manage claims for the entity's management node. Each call
// attaches a new link; the scope does not deduplicate calls. A timeout of
// zero means no budget beyond the caller's context.
func (scope *ConnectionScope) OpenManagementLink(ctx context.Context, timeout time.Duration) (Link, error) {
	if scope == nil {
		return nil, NewError(ObjectDisposedError, "nil connection scope")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if scope.settings.Endpoint == nil {
		return nil, NewError(ArgumentError, "endpoint is not set")
	}
	if scope.settings.EntityName == "" {
		return nil, NewError(ArgumentError, "entity name is not set")
	}
	if err := scope.guardOpen(ctx); err != nil {
		return nil, err
	}

	opCtx, done := scope.operationContext(ctx, timeout)
	defer done()

	connection, err := scope.connection.Acquire(opCtx)
	if err != nil {
		return nil, scope.translateContextError(ctx, err)
	}

	address := scope.managementAddress()
	_, err = scope.authorizer.AuthorizeClaims(opCtx, connection, scope.resourceURI(address), []string{claimManage, claimListen, claimSend})
	if err != nil {
		return nil, scope.translateContextError(ctx, err)
	}

	link, err := connection.OpenManagementLink(opCtx, address)
	if err != nil {
		return nil, scope.translateContextError(ctx, scope.attachError(err))
	}

	// Management authorization is long-lived and not renewed; the link is
	// still registered, with an explicit nil refresher, so disposal closes it.
	if !scope.track(link, nil) {
		_ = link.Close(context.Background())
		return nil, NewError(ObjectDisposedError, "connection scope was closed during the operation")
	}

	scope.log.Debug("management link opened", zap.String("address", address))
	return link, nil
}

// OpenConsumerLink opens a receiving link for one partition of a consumer
// group, positioned by position and configured by options. The link's listen
// authorization is renewed in the background until the link closes.
func (scope *ConnectionScope) OpenConsumerLink(ctx context.Context, consumerGroup string, partitionID string, position *EventPosition, options *ConsumerLinkOptions, timeout time.Duration) (Link, error) {
	if scope == nil {
		return nil, NewError(ObjectDisposedError, "nil connection scope")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if scope.settings.Endpoint == nil {
		return nil, NewError(ArgumentError, "endpoint is not set")
	}
	if scope.settings.EntityName == "" {
		return nil, NewError(ArgumentError, "entity name is not set")
	}
	if consumerGroup == "" {
		return nil, NewError(ArgumentError, "consumerGroup cannot be empty")
	}
	if partitionID == "" {
		return nil, NewError(ArgumentError, "partitionId cannot be empty")
	}
	if position == nil {
		return nil, NewError(ArgumentError, "position cannot be nil")
	}
	if options == nil {
		return nil, NewError(ArgumentError, "options cannot be nil")
	}

	expression, err := position.filterExpression()
	if err != nil {
		return nil, err
	}
	if err := scope.guardOpen(ctx); err != nil {
		return nil, err
	}

	opCtx, done := scope.operationContext(ctx, timeout)
	defer done()

	connection, err := scope.connection.Acquire(opCtx)
	if err != nil {
		return nil, scope.translateContextError(ctx, err)
	}

	address := scope.consumerAddress(consumerGroup, partitionID)
	resource := scope.resourceURI(address)
	expiry, err := scope.authorizer.AuthorizeClaims(opCtx, connection, resource, []string{claimListen})
	if err != nil {
		return nil, scope.translateContextError(ctx, err)
	}

	normalized := normalizeConsumerLinkOptions(options)
	settings := ReceiverLinkSettings{
		Address:          address,
		Credit:           normalized.PrefetchCount,
		FilterExpression: expression,
		Properties:       map[string]interface{}{},
	}
	if normalized.Identifier != "" {
		settings.Properties[consumerIdentifierName] = normalized.Identifier
	}
	if normalized.OwnerLevel != nil {
		settings.Properties[epochPropertyName] = *normalized.OwnerLevel
	}
	if normalized.TrackLastEnqueuedEventInformation {
		settings.DesiredCapabilities = append(settings.DesiredCapabilities, receiverRuntimeMetricName)
	}

	link, err := connection.OpenReceiverLink(opCtx, settings)
	if err != nil {
		return nil, scope.translateContextError(ctx, scope.attachError(err))
	}

	refresher := scope.newAuthorizationRefresher(resource)
	if !scope.track(link, refresher) {
		refresher.cancel()
		_ = link.Close(context.Background())
		return nil, NewError(ObjectDisposedError, "connection scope was closed during the operation")
	}
	refresher.schedule(expiry)

	scope.log.Debug("consumer link opened",
		zap.String("address", address),
		zap.Uint32("credit", normalized.PrefetchCount),
		zap.Time("authorizationExpiry", expiry))
	return link, nil
}

// newAuthorizationRefresher builds the renewal timer for a consumer link.
// Renewal re-resolves the shared connection so a replaced connection still
// receives the refreshed token.
func (scope *ConnectionScope) newAuthorizationRefresher(resource string) *authorizationRefresher {
	return &authorizationRefresher{
		lifetime:  scope.shutdownCtx,
		retryWait: scope.settings.MinimumRefresh,
		interval:  scope.refreshInterval,
		renew: func(renewCtx context.Context) (time.Time, error) {
			connection, err := scope.connection.Acquire(renewCtx)
			if err != nil {
				return time.Time{}, err
			}
			return scope.authorizer.AuthorizeClaims(renewCtx, connection, resource, []string{claimListen})
		},
		report: func(err error) {
			scope.reportRefreshFailure(resource, err)
		},
	}
}

// refreshInterval schedules renewal at a fraction of the token's remaining
// validity, clamped to the configured minimum so near-expiry tokens do not
// produce a hot renewal loop.
func (scope *ConnectionScope) refreshInterval(expiry time.Time) time.Duration {
	remaining := time.Until(expiry)
	interval := time.Duration(float64(remaining) * scope.settings.RefreshFraction)
	if interval < scope.settings.MinimumRefresh {
		interval = scope.settings.MinimumRefresh
	}
	return interval
}

// reportRefreshFailure surfaces a background renewal failure without closing
// the link. A failure in one link's renewal never affects other links or the
// shared connection.
func (scope *ConnectionScope) reportRefreshFailure(resource string, err error) {
	scope.log.Warn("authorization refresh failed",
		zap.String("resource", resource),
		zap.Error(err))

	scope.handlerLock.Lock()
	handler := scope.errorHandler
	scope.handlerLock.Unlock()
	if handler != nil {
		handler(NewError(AuthorizationError, err))
	}
}

// track registers the link and starts its close watcher. Returns false when
// disposal raced the open, in which case the link must not outlive the
// scope: the registration is rolled back so no dangling entry remains.
func (scope *ConnectionScope) track(link Link, refresher *authorizationRefresher) bool {
	if scope.disposed.Load() {
		return false
	}

	scope.registry.register(link, refresher)
	scope.registry.watch(scope.shutdownCtx.Done(), link)

	if scope.disposed.Load() {
		scope.registry.remove(link)
		return false
	}
	return true
}

// Close disposes the scope: it cancels every pending operation, closes each
// registered link and its refresh timer, and closes the shared connection.
// Close is idempotent and safe to call concurrently with link closure.
func (scope *ConnectionScope) Close() error {
	if scope == nil {
		return nil
	}
	if !scope.disposed.CompareAndSwap(false, true) {
		return nil
	}

	scope.shutdown()

	closeCtx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
	defer cancel()

	scope.registry.closeAll(closeCtx)
	scope.registry.wait()

	err := scope.connection.Close(closeCtx)
	scope.log.Debug("connection scope closed", zap.String("identifier", scope.settings.Identifier))
	return err
}
