package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/shihaohou/vllm-model-manager/logger"
	"github.com/shihaohou/vllm-model-manager/notify"
)

const DEFAULT_TOPIC = "vllm-manager/notifications"

var publishTimeout = time.Second * 5

var connectHandler mqtt.OnConnectHandler = func(client mqtt.Client) {
	logger.InfoLogger().Println("Connected to the MQTT broker")
}

var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
	logger.InfoLogger().Printf("Connect lost: %v", err)
}

// Notifier publishes dashboard notifications to a broker topic.
type Notifier struct {
	client mqtt.Client
	topic  string
}

// BrokerURL accepts host:port and adds the tcp scheme paho expects.
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return fmt.Sprintf("tcp://%s", broker)
}

// NewNotifier connects in the background; notifications raised before the connection is up are
// dropped by paho with an error logged here.
func NewNotifier(broker string, topic string) *Notifier {
	if topic == "" {
		topic = DEFAULT_TOPIC
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(broker))
	opts.SetClientID(fmt.Sprintf("vllm-manager-%s", uuid.New().String()))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.OnConnect = connectHandler
	opts.OnConnectionLost = connectLostHandler

	n := &Notifier{
		client: mqtt.NewClient(opts),
		topic:  topic,
	}
	go n.run()
	return n
}

func (n *Notifier) run() {
	if token := n.client.Connect(); token.Wait() && token.Error() != nil {
		logger.ErrorLogger().Printf("ERROR: MQTT CONNECT: %s", token.Error())
	}
}

func (n *Notifier) Notify(notification notify.Notification) {
	payload, err := EncodeNotification(notification)
	if err != nil {
		logger.ErrorLogger().Printf("ERROR: unable to encode notification: %v", err)
		return
	}
	n.publishToBroker(payload)
}

func (n *Notifier) publishToBroker(payload string) {
	logger.InfoLogger().Printf("MQTT - publish to - %s - the payload - %s", n.topic, payload)
	token := n.client.Publish(n.topic, 1, false, payload)
	if err := publishError(token.WaitTimeout(publishTimeout), token.Error()); err != nil {
		logger.ErrorLogger().Printf("ERROR: MQTT PUBLISH: %s", err)
	}
}

// publishError reports a publish that failed or was not acknowledged within publishTimeout.
func publishError(completed bool, err error) error {
	if !completed {
		return fmt.Errorf("no acknowledgement within %v", publishTimeout)
	}
	return err
}

// Close disconnects, letting queued publishes drain for up to 250ms.
func (n *Notifier) Close() {
	n.client.Disconnect(250)
}

func EncodeNotification(notification notify.Notification) (string, error) {
	data, err := json.Marshal(notification)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
