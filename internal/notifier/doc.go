// Package notifier announces newly inserted events.
//
// A run hands the rows it inserted to a Notifier after all writes are done.
// LogNotifier prints them to a writer, which is what dry runs and local use
// want. AMQPNotifier publishes one JSON message per event to a RabbitMQ
// exchange so downstream services (newsletters, push alerts) can pick them up.
package notifier
