// Package relay subscribes to a session's platform events and forwards each
// one to the webhook configured for its category, enriched with routing
// metadata the receiving workflow needs.
package relay

import (
	"log"

	"github.com/zalogate/zalogate/internal/platform"
)

// Resolver maps an event category (optionally per account) to a webhook
// URL. An empty URL means the category is unrouted.
type Resolver interface {
	Resolve(category platform.Category, accountID string) string
}

// Deliverer posts a payload to a webhook URL without blocking the caller.
type Deliverer interface {
	Deliver(url string, payload map[string]interface{})
}

type Relay struct {
	routes Resolver
	sender Deliverer
}

func New(routes Resolver, sender Deliverer) *Relay {
	return &Relay{routes: routes, sender: sender}
}

var categories = []platform.Category{
	platform.CategoryMessage,
	platform.CategoryGroupEvent,
	platform.CategoryReaction,
}

// Attach subscribes the relay to every event category on a session's stream
// and returns the unsubscribe functions, one per category.
func (r *Relay) Attach(accountID string, stream platform.EventStream) []func() {
	unsubs := make([]func(), 0, len(categories))
	for _, cat := range categories {
		cat := cat
		unsubs = append(unsubs, stream.On(cat, func(payload map[string]interface{}) {
			r.forward(cat, accountID, payload)
		}))
	}
	return unsubs
}

func (r *Relay) forward(category platform.Category, accountID string, payload map[string]interface{}) {
	url := r.routes.Resolve(category, accountID)
	if url == "" {
		log.Printf("[relay] no webhook configured for %s events, dropping event from account %s", category, accountID)
		return
	}
	r.sender.Deliver(url, Enrich(category, accountID, payload))
}

// Enrich copies the payload and adds the metadata fields consumers key on:
// _accountId on everything, plus message classification on message events.
// A group message is one whose destination is neither the receiving account
// nor the sender.
func Enrich(category platform.Category, accountID string, payload map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(payload)+4)
	for k, v := range payload {
		out[k] = v
	}
	out["_accountId"] = accountID

	if category != platform.CategoryMessage {
		return out
	}

	msgType := "user"
	if isSelf, _ := payload["isSelf"].(bool); isSelf {
		msgType = "self"
	}
	out["_messageType"] = msgType

	idTo, _ := payload["idTo"].(string)
	uidFrom, _ := payload["uidFrom"].(string)
	isGroup := idTo != "" && idTo != accountID && idTo != uidFrom
	out["_isGroup"] = isGroup
	if isGroup {
		out["_chatType"] = "group"
	} else {
		out["_chatType"] = "personal"
	}
	return out
}
