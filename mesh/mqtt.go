package mesh

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultPublishPrefix is the topic prefix used when none is configured.
const DefaultPublishPrefix = "meshreg"

// JobHandler is called for every message on the request topic. err is set
// when the payload could not be decoded.
type JobHandler func(req JobRequest, err error)

// MQTTClient manages the broker connection and the job request subscription
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	jobHandler  JobHandler
	isConnected bool
	mu          sync.RWMutex
}

var (
	globalClient *MQTTClient
	clientMu     sync.Mutex
)

// InitMQTT initializes the global MQTT client with the provided configuration
// If neither MQTT_BROKER nor mqtt.broker is set, MQTT is disabled and this
// returns nil
func InitMQTT(config *Config, handler JobHandler) (*MQTTClient, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	if config == nil {
		config = &Config{}
	}
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" {
		broker = config.MQTT.Broker
	}
	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}
	if handler == nil {
		return nil, fmt.Errorf("MQTT enabled but no job handler provided")
	}

	client := &MQTTClient{
		config:     config,
		jobHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "meshreg"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the request subscription across reconnects
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	globalClient = client
	return client, nil
}

// GetMQTTClient returns the global MQTT client instance
func GetMQTTClient() *MQTTClient {
	clientMu.Lock()
	defer clientMu.Unlock()
	return globalClient
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// RequestTopic is the topic job requests arrive on.
func (c *MQTTClient) RequestTopic() string {
	return publishPrefix(c.config) + "/request"
}

// onConnect subscribes to the request topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.RequestTopic()
	log.Printf("MQTT connected, subscribing to %s", topic)
	token := client.Subscribe(topic, 1, c.createRequestHandler())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("Error subscribing to %s: %v", topic, token.Error())
		return
	}
	log.Printf("Successfully subscribed to %s", topic)
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// createRequestHandler decodes job requests and hands them to the job handler
func (c *MQTTClient) createRequestHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("Received job request (topic: %s, size: %d bytes)", msg.Topic(), len(payload))

		req, err := DecodeJobRequest(payload)
		if err != nil {
			log.Printf("Error decoding job request: %v", err)
		}
		if c.jobHandler != nil {
			c.jobHandler(req, err)
		}
	}
}

// DecodeJobRequest parses a JSON job request. Requests naming a configured
// job by ID may omit model and scene; the caller resolves them.
func DecodeJobRequest(payload []byte) (JobRequest, error) {
	var req JobRequest
	if len(strings.TrimSpace(string(payload))) == 0 {
		return req, fmt.Errorf("empty job request")
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("parsing job request: %w", err)
	}
	if req.ID == "" && (req.Model == "" || req.Scene == "") {
		return req, fmt.Errorf("job request needs an id or both model and scene")
	}
	return req, nil
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient around a provided mqtt.Client
// for tests
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler JobHandler) *MQTTClient {
	if config == nil {
		config = &Config{}
	}
	return &MQTTClient{
		client:     client,
		config:     config,
		jobHandler: handler,
	}
}

func publishPrefix(config *Config) string {
	if p := os.Getenv("MQTT_PUBLISH_PREFIX"); p != "" {
		return p
	}
	if config != nil && config.MQTT.PublishPrefix != "" {
		return config.MQTT.PublishPrefix
	}
	return DefaultPublishPrefix
}
