package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const dialTimeout = 10 * time.Second

// normalizeAMQPURL tolerates the ways a broker URL tends to get mangled in
// deployment env files: surrounding quotes, stray whitespace and a pasted
// "KEY=" prefix.
func normalizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), `"'`)
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}

	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("invalid AMQP URL: %w", err)
	}
	switch u.Scheme {
	case "amqp", "amqps":
	default:
		return "", fmt.Errorf("AMQP scheme must be amqp:// or amqps://, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("AMQP URL has no host")
	}
	return u.String(), nil
}

// connect dials the broker and opens one channel. The connection name shows up
// in the management UI, which makes publisher and consumer connections easy to
// tell apart.
func connect(rawURL, connectionName string) (*amqp091.Connection, *amqp091.Channel, error) {
	amqpURL, err := normalizeAMQPURL(rawURL)
	if err != nil {
		return nil, nil, err
	}

	properties := amqp091.NewConnectionProperties()
	properties.SetClientConnectionName(connectionName)
	conn, err := amqp091.DialConfig(amqpURL, amqp091.Config{
		Dial:       amqp091.DefaultDial(dialTimeout),
		Properties: properties,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	return conn, ch, nil
}
