/*
Package rabbitmq exposes responders over RabbitMQ request/reply.
The Server consumes one durable queue per endpoint with the endpoint's prefetch as QoS and
publishes each reply to the request's ReplyTo with its correlation id; the Client uses direct
reply-to. Dial connects with jittered exponential backoff.
*/
package rabbitmq
