package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/next-trace/scg-autorespond/autorespond"
	cbus "github.com/next-trace/scg-autorespond/contract/bus"
)

// Demo responders served by this binary.

type Greet struct {
	Name string `json:"name"`
}

type Greeting struct {
	Message string `json:"message"`
}

type Greeter struct{}

func (*Greeter) Handle(_ context.Context, req Greet) (Greeting, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "stranger"
	}

	return Greeting{Message: fmt.Sprintf("hello, %s", name)}, nil
}

type Add struct {
	A int `json:"a"`
	B int `json:"b"`
}

type Multiply struct {
	A int `json:"a"`
	B int `json:"b"`
}

type Result struct {
	Value int `json:"value"`
}

// Calculator answers two request types and asks for a wider prefetch on multiplication.
type Calculator struct{}

func (*Calculator) Add(_ context.Context, req Add) (Result, error) {
	return Result{Value: req.A + req.B}, nil
}

func (*Calculator) Multiply(_ context.Context, req Multiply) (Result, error) {
	return Result{Value: req.A * req.B}, nil
}

func (*Calculator) Capabilities() []autorespond.Capability {
	return []autorespond.Capability{
		autorespond.Handles((*Calculator).Add),
		autorespond.Handles((*Calculator).Multiply, autorespond.WithOverride(autorespond.Override{PrefetchCount: 100})),
	}
}

type Now struct {
	Zone string `json:"zone"`
}

type Time struct {
	RFC3339 string `json:"rfc3339"`
}

// Clock answers asynchronously.
type Clock struct{}

func (*Clock) HandleAsync(_ context.Context, req Now) *cbus.Future[Time] {
	return cbus.Go(func() (Time, error) {
		loc := time.UTC
		if req.Zone != "" {
			l, err := time.LoadLocation(req.Zone)
			if err != nil {
				return Time{}, err
			}

			loc = l
		}

		return Time{RFC3339: time.Now().In(loc).Format(time.RFC3339)}, nil
	})
}

var (
	_ cbus.RequestHandler[Greet, Greeting] = (*Greeter)(nil)
	_ cbus.AsyncRequestHandler[Now, Time]  = (*Clock)(nil)
)

var (
	syncResponders  = autorespond.TypesOf(&Greeter{}, &Calculator{})
	asyncResponders = autorespond.TypesOf(&Clock{})
)
