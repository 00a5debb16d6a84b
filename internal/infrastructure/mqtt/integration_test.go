//go:build integration

package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ktheindifferent/lifx-api-server/internal/infrastructure/config"
	"github.com/ktheindifferent/lifx-api-server/internal/states"
)

// Integration tests against a real broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	cfg.TopicPrefix = "lifx-int"
	return cfg
}

func TestIntegration_MirrorRoundTrip(t *testing.T) {
	gw, err := Connect(integrationConfig("lifxd-int-mirror"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer gw.Close()

	watcher, err := Connect(integrationConfig("lifxd-int-watcher"))
	if err != nil {
		t.Fatalf("Connect() watcher error = %v", err)
	}
	defer watcher.Close()

	received := make(chan []byte, 4)
	err = watcher.Subscribe(gw.Topics().AllStates(), 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	m := NewMirror(gw, gw.Topics(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.DeviceChanged(testSnapshot(t))

	select {
	case payload := <-received:
		var view struct {
			ID    string `json:"id"`
			Label string `json:"label"`
		}
		if err := json.Unmarshal(payload, &view); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if view.ID != "d073d5010203" || view.Label != "Desk" {
			t.Errorf("view = %+v", view)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("state message not received")
	}
}

func TestIntegration_CommandRoundTrip(t *testing.T) {
	gw, err := Connect(integrationConfig("lifxd-int-cmd"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer gw.Close()

	applied := make(chan string, 1)
	applier := applierFunc(func(selector string, _ states.Update) {
		applied <- selector
	})
	m := NewMirror(gw, gw.Topics(), applier, nil)
	if err := gw.Subscribe(gw.Topics().AllSet(), 1, m.HandleCommand); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !gw.HasSubscription(gw.Topics().AllSet()) {
		t.Fatal("set subscription not tracked")
	}

	if err := gw.PublishEvent(gw.Topics().Set("label:Desk"), []byte(`{"power":"on"}`)); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	select {
	case sel := <-applied:
		if sel != "label:Desk" {
			t.Errorf("selector = %q", sel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command not applied")
	}

	if err := gw.Unsubscribe(gw.Topics().AllSet()); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if gw.HasSubscription(gw.Topics().AllSet()) {
		t.Error("set subscription still tracked after Unsubscribe")
	}
	if err := gw.PublishEvent(gw.Topics().Set("label:Desk"), []byte(`{"power":"off"}`)); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}
	select {
	case sel := <-applied:
		t.Errorf("command for %q applied after Unsubscribe", sel)
	case <-time.After(500 * time.Millisecond):
	}
}

type applierFunc func(selector string, u states.Update)

func (f applierFunc) ApplyOne(_ context.Context, selector string, u states.Update) (states.Response, error) {
	f(selector, u)
	return states.Response{}, nil
}
