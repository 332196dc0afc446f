/*
Package servicebus provides a thin request/response bus.
Responders are registered per request type, usually by an autorespond.AutoResponder, and are
exposed to transports through Endpoints; requesters reach them in-process or over a Client.
*/
package servicebus
