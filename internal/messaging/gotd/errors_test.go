package gotd

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"

	"tgbroadcast/internal/messaging"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want messaging.Kind
	}{
		{name: "invalid phone", err: tgerr.New(400, "PHONE_NUMBER_INVALID"), want: messaging.KindInvalidPhone},
		{name: "unoccupied", err: tgerr.New(400, "PHONE_NUMBER_UNOCCUPIED"), want: messaging.KindPhoneNotRegistered},
		{name: "two factor", err: tgerr.New(401, "SESSION_PASSWORD_NEEDED"), want: messaging.KindTwoFactorRequired},
		{name: "wrong code", err: tgerr.New(400, "PHONE_CODE_INVALID"), want: messaging.KindWrongCode},
		{name: "expired code", err: tgerr.New(400, "PHONE_CODE_EXPIRED"), want: messaging.KindChallengeExpired},
		{name: "unknown username", err: tgerr.New(400, "USERNAME_NOT_OCCUPIED"), want: messaging.KindRecipientNotFound},
		{name: "peer flood", err: tgerr.New(400, "PEER_FLOOD"), want: messaging.KindFloodControlExceeded},
		{name: "generic flood", err: tgerr.New(420, "FLOOD"), want: messaging.KindRateLimitedGeneric},
		{name: "revoked", err: tgerr.New(401, "SESSION_REVOKED"), want: messaging.KindUnauthorized},
		{name: "wrapped", err: fmt.Errorf("send: %w", tgerr.New(400, "USERNAME_INVALID")), want: messaging.KindRecipientNotFound},
		{name: "could not find", err: errors.New("Could not find the input entity"), want: messaging.KindRecipientNotFound},
		{name: "other", err: errors.New("io timeout"), want: messaging.KindOther},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := messaging.KindOf(classify(tt.err)); got != tt.want {
				t.Fatalf("classify(%v) kind = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyFloodWait(t *testing.T) {
	t.Parallel()
	err := classify(tgerr.New(420, "FLOOD_WAIT_17"))
	var me *messaging.Error
	if !errors.As(err, &me) || me.Kind != messaging.KindRateLimited {
		t.Fatalf("classify = %v", err)
	}
	if me.Wait != 17*time.Second {
		t.Fatalf("wait = %v", me.Wait)
	}
}

func TestDialValidatesCredentials(t *testing.T) {
	t.Parallel()
	if _, err := (Dialer{}).Dial("", messaging.DefaultDevices[0]); err == nil {
		t.Fatal("expected error without api credentials")
	}
	d := Dialer{AppID: 1, AppHash: "hash"}
	if _, err := d.Dial("%%%not-base64", messaging.DefaultDevices[0]); !messaging.IsKind(err, messaging.KindUnauthorized) {
		t.Fatalf("bad credential error = %v", err)
	}
	c, err := d.Dial("", messaging.DefaultDevices[1])
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := c.Disconnect(t.Context()); err != nil {
		t.Fatalf("Disconnect before Connect: %v", err)
	}
}
