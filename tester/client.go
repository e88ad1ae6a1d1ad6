package tester

// client represents one tested component (processor, view or emitter) with
// its kafka mocks.
type client struct {
	clientID      string
	consumerGroup *consumerGroup
	consumer      *consumerMock
}

func (c *client) waitStartup() {
	if c.consumerGroup != nil {
		c.consumerGroup.waitRunning()
	}

	c.consumer.waitRequiredConsumersStartup()
}

func (c *client) requireConsumer(topic string) {
	c.consumer.requirePartConsumer(topic)
}

// catchup pushes queued messages to the client's consumers and returns the
// number of messages pushed.
func (c *client) catchup() int {
	var catchup int
	if c.consumerGroup != nil {
		catchup += c.consumerGroup.catchupAndWait()
	}

	catchup += c.consumer.catchup()

	return catchup
}
