package messaging

// NoopClient satisfies Client when no broker is configured. The crawl and
// download passes publish progress events unconditionally; without a
// RabbitMQ URL those publishes land here and are discarded.
type NoopClient struct{}

func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

func (*NoopClient) PublishJSON(exchange, routingKey string, data interface{}) error {
	return nil
}

func (*NoopClient) DeclareQueue(name string) error {
	return nil
}

func (*NoopClient) BindQueue(queueName, exchange, routingKey string) error {
	return nil
}

func (*NoopClient) Consume(queueName string, handler func([]byte) error) error {
	return nil
}

func (*NoopClient) Close() error {
	return nil
}
