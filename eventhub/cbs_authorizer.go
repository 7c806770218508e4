package eventhub

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/go-amqp"
)

// Claims-based security node and message keys.
const (
	cbsAddress              = "$cbs"
	cbsOperationKey         = "operation"
	cbsPutTokenOperation    = "put-token"
	cbsTokenTypeKey         = "type"
	cbsAudienceKey          = "name"
	cbsExpirationKey        = "expiration"
	cbsStatusCodeKey        = "status-code"
	cbsStatusDescriptionKey = "status-description"

	cbsTokenTypeJWT = "jwt"
)

// CbsAuthorizer authorizes addresses by transmitting credential tokens to
// the broker's claims-based security node. The claims a token grants are
// carried by the token itself; the claims argument documents the caller's
// intent and is available to custom ClaimsAuthorizer implementations.
type CbsAuthorizer struct {
	// TokenType names the token format announced in the put-token
	// request. Defaults to "jwt".
	TokenType string

	refresher *TokenRefresher
}

// NewCbsAuthorizer returns a new CbsAuthorizer drawing tokens from the given
// refresher.
func NewCbsAuthorizer(refresher *TokenRefresher) *CbsAuthorizer {
	return &CbsAuthorizer{refresher: refresher}
}

// AuthorizeClaims acquires a token for the address and performs the
// put-token exchange on the connection, returning the token's expiry.
func (authorizer *CbsAuthorizer) AuthorizeClaims(ctx context.Context, connection Connection, address string, claims []string) (time.Time, error) {
	if authorizer == nil {
		return time.Time{}, NewError(AuthorizationError, "no authorizer configured")
	}

	token, err := authorizer.refresher.RequestToken(ctx, address)
	if err != nil {
		return time.Time{}, err
	}

	target, supportsCbs := connection.(*amqpConnection)
	if !supportsCbs {
		return time.Time{}, NewError(AuthorizationError, "connection does not support claims-based security")
	}

	tokenType := authorizer.TokenType
	if tokenType == "" {
		tokenType = cbsTokenTypeJWT
	}

	if err := target.putToken(ctx, tokenType, address, token); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return time.Time{}, ctxErr
		}
		if HasErrorCode(err, AuthorizationError) {
			return time.Time{}, err
		}
		return time.Time{}, NewError(AuthorizationError, err)
	}

	return token.ExpiresOn, nil
}

// putToken performs one put-token request/response exchange on the $cbs
// node. The request and reply links are scoped to the exchange and closed
// before returning.
func (connection *amqpConnection) putToken(ctx context.Context, tokenType string, audience string, token AccessToken) error {
	session, err := connection.getSession(ctx)
	if err != nil {
		return err
	}

	replyAddress := "cbs-reply-" + randomLinkSuffix()
	receiver, err := session.NewReceiver(ctx, cbsAddress, &amqp.ReceiverOptions{
		TargetAddress:  replyAddress,
		SettlementMode: amqp.ReceiverSettleModeFirst.Ptr(),
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = receiver.Close(ctx)
	}()

	sender, err := session.NewSender(ctx, cbsAddress, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = sender.Close(ctx)
	}()

	request := &amqp.Message{
		Properties: &amqp.MessageProperties{
			MessageID: randomLinkSuffix(),
			ReplyTo:   &replyAddress,
		},
		ApplicationProperties: map[string]interface{}{
			cbsOperationKey:  cbsPutTokenOperation,
			cbsTokenTypeKey:  tokenType,
			cbsAudienceKey:   audience,
			cbsExpirationKey: token.ExpiresOn,
		},
		Value: token.Token,
	}
	if err := sender.Send(ctx, request, nil); err != nil {
		return err
	}

	response, err := receiver.Receive(ctx, nil)
	if err != nil {
		return err
	}
	_ = receiver.AcceptMessage(ctx, response)

	status := cbsStatusCode(response.ApplicationProperties[cbsStatusCodeKey])
	if status < 200 || status >= 300 {
		description, _ := response.ApplicationProperties[cbsStatusDescriptionKey].(string)
		return NewError(AuthorizationError, fmt.Sprintf("put-token returned status %d: %s", status, description))
	}
	return nil
}

func cbsStatusCode(value interface{}) int {
	switch code := value.(type) {
	case int:
		return code
	case int8:
		return int(code)
	case int16:
		return int(code)
	case int32:
		return int(code)
	case int64:
		return int(code)
	case uint8:
		return int(code)
	case uint16:
		return int(code)
	case uint32:
		return int(code)
	case uint64:
		return int(code)
	}
	return 0
}
