// Package pubsub connects the outbox publisher to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/campusstore-backend/pkg/config"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
)

var errNotConnected = errors.New("pubsub client not initialized")

// Client checks that every configured topic exists and hands out publishers.
// Topics are never created here; provisioning belongs to infrastructure.
type Client struct {
	conn      *pubsub.Client
	projectID string
	topics    []string
	lookup    func(ctx context.Context, resource string) error
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errors.New("gcp project id is required")
	}
	conn, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	c := &Client{
		conn:      conn,
		projectID: projectID,
		topics:    TopicNames(cfg),
		lookup: func(ctx context.Context, resource string) error {
			_, err := conn.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: resource})
			return err
		},
	}
	if err := c.checkTopics(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"gcp_project": projectID, "topics": c.topics}), "pubsub client ready")
	}
	return c, nil
}

// TopicNames lists the non-blank topics from cfg in a stable order.
func TopicNames(cfg config.PubSubConfig) []string {
	var names []string
	for _, name := range []string{cfg.OrdersTopic, cfg.InventoryTopic} {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func (c *Client) checkTopics(ctx context.Context) error {
	if len(c.topics) == 0 {
		return errors.New("no pubsub topics configured")
	}
	for _, topic := range c.topics {
		resource := TopicResourceName(c.projectID, topic)
		err := c.lookup(ctx, resource)
		switch {
		case err == nil:
		case status.Code(err) == codes.NotFound:
			return fmt.Errorf("pubsub topic %s does not exist", resource)
		default:
			return fmt.Errorf("looking up pubsub topic %s: %w", resource, err)
		}
	}
	return nil
}

// Publisher returns nil when the client is unset or name cannot be resolved.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.conn == nil {
		return nil
	}
	if resource := TopicResourceName(c.projectID, name); resource != "" {
		return c.conn.Publisher(resource)
	}
	return nil
}

// Ping re-checks that the configured topics are still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.lookup == nil {
		return errNotConnected
	}
	return c.checkTopics(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// TopicResourceName expands a bare topic id into projects/<p>/topics/<id>.
// Names that are already full resource names pass through.
func TopicResourceName(projectID, name string) string {
	name = strings.TrimSpace(name)
	projectID = strings.TrimSpace(projectID)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/topics/"):
		return name
	case projectID == "":
		return ""
	}
	return "projects/" + projectID + "/topics/" + name
}
