/*
Package kafka exposes responders over Kafka topics with franz-go.
The Server joins a consumer group per endpoint topic, answers each polled batch with at most
PrefetchCount concurrent handlers and commits once the batch is answered. Replies go to the topic
named by the request's reply-to header. The Client owns a reply topic and matches replies to
waiting calls by correlation id.
*/
package kafka
