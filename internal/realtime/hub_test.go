package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_TenantIsolation(t *testing.T) {
	h := testHub()
	client := &Client{tenantID: "ten_a", sub: Subscription{AllEvents: true}}

	own := &Event{Type: EventDealCreated, TenantID: "ten_a"}
	foreign := &Event{Type: EventDealCreated, TenantID: "ten_b"}

	if !h.shouldSend(client, own) {
		t.Error("client should receive its own tenant's events")
	}
	if h.shouldSend(client, foreign) {
		t.Error("client must NEVER receive another tenant's events")
	}
}

func TestShouldSend_UnboundClientGetsNothing(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	if h.shouldSend(client, &Event{Type: EventDealCreated, TenantID: "ten_a"}) {
		t.Error("a client without a tenant binding must receive nothing")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{tenantID: "ten_a", sub: Subscription{
		EventTypes: []EventType{EventDealCreated, EventDealStageChanged},
	}}

	created := &Event{Type: EventDealCreated, TenantID: "ten_a"}
	staged := &Event{Type: EventDealStageChanged, TenantID: "ten_a"}
	task := &Event{Type: EventTaskCompleted, TenantID: "ten_a"}

	if !h.shouldSend(client, created) {
		t.Error("Should receive deal_created events")
	}
	if !h.shouldSend(client, staged) {
		t.Error("Should receive deal_stage_changed events")
	}
	if h.shouldSend(client, task) {
		t.Error("Should NOT receive task events")
	}
}

func TestShouldSend_OwnerFilter(t *testing.T) {
	h := testHub()

	client := &Client{tenantID: "ten_a", sub: Subscription{
		OwnerIDs: []string{"usr_1"},
	}}

	mine := &Event{
		Type: EventTaskCreated, TenantID: "ten_a",
		Data: map[string]interface{}{"ownerId": "usr_1"},
	}
	theirs := &Event{
		Type: EventTaskCreated, TenantID: "ten_a",
		Data: map[string]interface{}{"ownerId": "usr_2"},
	}

	if !h.shouldSend(client, mine) {
		t.Error("Should match on ownerId")
	}
	if h.shouldSend(client, theirs) {
		t.Error("Should NOT match other owners")
	}
}

func TestShouldSend_MinValueFilter(t *testing.T) {
	h := testHub()

	client := &Client{tenantID: "ten_a", sub: Subscription{
		MinValue: 100000,
	}}

	big := &Event{
		Type: EventDealCreated, TenantID: "ten_a",
		Data: map[string]interface{}{"valueCents": 250000.0},
	}
	small := &Event{
		Type: EventDealCreated, TenantID: "ten_a",
		Data: map[string]interface{}{"valueCents": 5000.0},
	}
	task := &Event{
		Type: EventTaskCompleted, TenantID: "ten_a",
		Data: map[string]interface{}{"title": "call back"},
	}

	if !h.shouldSend(client, big) {
		t.Error("Should receive big deal")
	}
	if h.shouldSend(client, small) {
		t.Error("Should NOT receive small deal")
	}
	if !h.shouldSend(client, task) {
		t.Error("MinValue filter should only apply to deal events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHubRegisterAndBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{
		hub: h, tenantID: "ten_a",
		send: make(chan []byte, 4),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client

	h.Publish("ten_a", EventContactCreated, map[string]interface{}{"id": "con_1"})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("empty broadcast payload")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHubBroadcastSkipsOtherTenants(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{
		hub: h, tenantID: "ten_b",
		send: make(chan []byte, 4),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client

	h.Publish("ten_a", EventContactCreated, map[string]interface{}{"id": "con_1"})

	select {
	case <-client.send:
		t.Fatal("cross-tenant event delivered")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	client := &Client{
		hub: h, tenantID: "ten_a",
		send: make(chan []byte, 4),
	}
	h.register <- client

	cancel()

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected closed send channel")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed on shutdown")
	}

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("hub did not signal done")
	}
}

func TestHubStats(t *testing.T) {
	h := testHub()
	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Error("fresh hub should have no clients")
	}
}
