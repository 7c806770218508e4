package eventhub

import (
	"context"
	"net/url"
	"os"
	"testing"
	"time"
)

// Integration tests run against a live AMQP endpoint and are skipped unless
// the environment is configured:
//
//	EVENTHUB_TEST_ENDPOINT        amqps://<namespace>.servicebus.windows.net
//	EVENTHUB_TEST_ENTITY          entity (hub) name
//	EVENTHUB_TEST_TOKEN           shared access signature token
//	EVENTHUB_TEST_CONSUMER_GROUP  consumer group, defaults to $Default

func integrationScope(t *testing.T) (*ConnectionScope, string) {
	t.Helper()

	rawEndpoint := os.Getenv("EVENTHUB_TEST_ENDPOINT")
	entity := os.Getenv("EVENTHUB_TEST_ENTITY")
	token := os.Getenv("EVENTHUB_TEST_TOKEN")
	if rawEndpoint == "" || entity == "" || token == "" {
		t.Skip("integration environment not configured; set EVENTHUB_TEST_ENDPOINT, EVENTHUB_TEST_ENTITY and EVENTHUB_TEST_TOKEN")
	}
	consumerGroup := os.Getenv("EVENTHUB_TEST_CONSUMER_GROUP")
	if consumerGroup == "" {
		consumerGroup = "$Default"
	}

	endpoint, err := url.Parse(rawEndpoint)
	if err != nil {
		t.Fatalf("invalid EVENTHUB_TEST_ENDPOINT: %v", err)
	}

	scope := NewConnectionScope(ScopeSettings{
		Endpoint:   endpoint,
		EntityName: entity,
		Credential: &StaticCredential{Token: token, Validity: 10 * time.Minute},
	})
	t.Cleanup(func() { scope.Close() })
	return scope, consumerGroup
}

func TestIntegrationManagementLink(t *testing.T) {
	scope, _ := integrationScope(t)

	link, err := scope.OpenManagementLink(context.Background(), 30*time.Second)
	if err != nil {
		t.Fatalf("failed to open management link: %v", err)
	}
	if scope.ActiveLinks() != 1 {
		t.Fatalf("expected one tracked link, got %d", scope.ActiveLinks())
	}
	if err := link.Close(context.Background()); err != nil {
		t.Fatalf("failed to close management link: %v", err)
	}
}

func TestIntegrationConsumerLink(t *testing.T) {
	scope, consumerGroup := integrationScope(t)

	link, err := scope.OpenConsumerLink(context.Background(), consumerGroup, "0", Latest(), &ConsumerLinkOptions{}, 30*time.Second)
	if err != nil {
		t.Fatalf("failed to open consumer link: %v", err)
	}
	if err := link.Close(context.Background()); err != nil {
		t.Fatalf("failed to close consumer link: %v", err)
	}

	if !waitUntil(5*time.Second, func() bool { return scope.ActiveLinks() == 0 }) {
		t.Fatalf("expected the closed link to be unregistered, got %d tracked", scope.ActiveLinks())
	}
}

func TestIntegrationScopeClose(t *testing.T) {
	scope, consumerGroup := integrationScope(t)

	if _, err := scope.OpenConsumerLink(context.Background(), consumerGroup, "0", Latest(), &ConsumerLinkOptions{}, 30*time.Second); err != nil {
		t.Fatalf("failed to open consumer link: %v", err)
	}

	if err := scope.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if scope.ActiveLinks() != 0 {
		t.Fatalf("expected no tracked links after close, got %d", scope.ActiveLinks())
	}

	if _, err := scope.OpenManagementLink(context.Background(), 5*time.Second); !HasErrorCode(err, ObjectDisposedError) {
		t.Fatalf("expected ObjectDisposedError after close, got %v", err)
	}
}
