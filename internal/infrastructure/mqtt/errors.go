package mqtt

import "errors"

// Sentinels wrapped by the client's methods; match them with errors.Is.
var (
	// ErrNotConnected means the broker link is down. Publishes are not
	// queued while paho reconnects.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps the first connect attempt's error.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed covers broker rejections, oversized payloads and
	// publishes that are not acknowledged within the publish timeout.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
