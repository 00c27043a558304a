// ABOUTME: Tests for lead extraction and the capture state machine
// ABOUTME: Runs the tracker against the in-memory store

package leads

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shyanukant/waflow-sub000/internal/metrics"
	"github.com/shyanukant/waflow-sub000/internal/store"
)

func TestExtractName(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"My name is Rahul, I want to book a demo", "Rahul", true},
		{"hi, i'm priya", "Priya", true},
		{"I am looking for pricing", "", false},
		{"Call me Ana-Maria please", "Ana-maria", true},
		{"this is great", "", false},
		{"I'm interested. This is Omar from Dubai", "Omar", true},
		{"what are your hours", "", false},
		{"I'm thinking about your pricing", "", false},
		{"I am considering a purchase", "", false},
		{"I'm curious about the plans", "", false},
		{"I'm unable to pay", "", false},
		{"Hi, I'm waiting for a quote", "", false},
		{"This is Acme Corp", "", false},
		{"I'm Ling", "Ling", true},
		{"This is Omar Khan", "Omar", true},
		{"My name is Sterling", "Sterling", true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ExtractName(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractEmail(t *testing.T) {
	got, ok := ExtractEmail("sure, it's Rahul.K@Example.co.in.")
	require.True(t, ok)
	assert.Equal(t, "rahul.k@example.co.in", got)

	_, ok = ExtractEmail("my handle is @rahul")
	assert.False(t, ok)
}

func TestClassifiers(t *testing.T) {
	assert.True(t, HasIntent("Can I book a slot?"))
	assert.True(t, HasIntent("what's the PRICING like"))
	assert.True(t, HasIntent("I'd like a demo"))
	assert.False(t, HasIntent("thanks, bye"))

	assert.True(t, NeedsDetail("what is the timeline for a custom build"))
	assert.True(t, NeedsDetail("do you integrate with Shopify?"))
	assert.False(t, NeedsDetail("hello there"))

	assert.False(t, HasIntent("what a significant planet"))
	assert.False(t, HasIntent("nice costume"))
	assert.False(t, HasIntent("the bookshelf is lovely"))
	assert.True(t, HasIntent("I'd like to sign up"))
	assert.True(t, HasIntent("which plans do you have"))
	assert.False(t, NeedsDetail("I love your customers"))
	assert.True(t, NeedsDetail("is there an API"))
}

func TestDirectivesInstructions(t *testing.T) {
	assert.True(t, Directives{}.Empty())

	d := Directives{RequestEmail: true, Name: "Rahul"}
	lines := d.Instructions()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Rahul")
	assert.Contains(t, lines[1], "email address")
}

func newTracker(t *testing.T) (*Tracker, *store.MockStore, *metrics.Recorder) {
	t.Helper()
	s := store.NewMockStore()
	m := metrics.New()
	return NewTracker(s, m, nil), s, m
}

func TestProcess_FirstMessageCreatesLead(t *testing.T) {
	tr, s, _ := newTracker(t)
	ctx := context.Background()
	key := Key{TenantID: "t1", CounterpartyID: "15550001111"}

	d := tr.Process(ctx, key, "whatsapp", "Hi")
	assert.True(t, d.Empty())

	lead, err := s.GetLead(ctx, "t1", "15550001111")
	require.NoError(t, err)
	assert.Equal(t, "Hi", lead.Interest)
	assert.Equal(t, store.LeadStatusNew, lead.Status)
	assert.Equal(t, "whatsapp", lead.Source)

	flags, ok := tr.Flags(key)
	require.True(t, ok)
	assert.Equal(t, Flags{HasLead: true}, flags)
}

func TestProcess_InterestTruncated(t *testing.T) {
	tr, s, _ := newTracker(t)
	ctx := context.Background()
	key := Key{TenantID: "t1", CounterpartyID: "15550001111"}

	long := strings.Repeat("é", 250)
	tr.Process(ctx, key, "whatsapp", long)

	lead, err := s.GetLead(ctx, "t1", "15550001111")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 200), lead.Interest)
}

func TestProcess_NameAndIntentAsksForEmail(t *testing.T) {
	tr, s, _ := newTracker(t)
	ctx := context.Background()
	key := Key{TenantID: "t1", CounterpartyID: "15550001111"}

	d := tr.Process(ctx, key, "whatsapp", "My name is Rahul, I want to book a demo")
	assert.True(t, d.Intent)
	assert.True(t, d.RequestEmail)
	assert.False(t, d.RequestName, "name already known")
	assert.Equal(t, "Rahul", d.Name)

	lead, err := s.GetLead(ctx, "t1", "15550001111")
	require.NoError(t, err)
	assert.Equal(t, "Rahul", lead.Name)

	flags, _ := tr.Flags(key)
	assert.True(t, flags.HasName)
	assert.False(t, flags.AskedEmail, "pending until marked")

	tr.MarkAsked(key, d)
	flags, _ = tr.Flags(key)
	assert.True(t, flags.AskedEmail)
	assert.False(t, flags.AskedName)
}

func TestProcess_AskFlagsAreMonotonic(t *testing.T) {
	tr, _, _ := newTracker(t)
	ctx := context.Background()
	key := Key{TenantID: "t1", CounterpartyID: "15550001111"}

	first := tr.Process(ctx, key, "whatsapp", "what does it cost?")
	assert.True(t, first.RequestEmail)
	assert.True(t, first.RequestName)
	tr.MarkAsked(key, first)

	second := tr.Process(ctx, key, "whatsapp", "and can I book for Friday?")
	assert.False(t, second.RequestEmail)
	assert.False(t, second.RequestName)

	tr.Reset(key)
	third := tr.Process(ctx, key, "whatsapp", "ok let's book it")
	assert.True(t, third.RequestEmail, "new epoch asks again")
}

func TestProcess_NeedsDetailAsksEmailOnly(t *testing.T) {
	tr, _, _ := newTracker(t)
	d := tr.Process(context.Background(), Key{TenantID: "t1", CounterpartyID: "1"}, "whatsapp", "what's the timeline for a custom setup")
	assert.True(t, d.RequestEmail)
	assert.False(t, d.RequestName)
}

func TestProcess_EmailCapturedStopsAsking(t *testing.T) {
	tr, s, _ := newTracker(t)
	ctx := context.Background()
	key := Key{TenantID: "t1", CounterpartyID: "15550001111"}

	tr.Process(ctx, key, "whatsapp", "hello")
	d := tr.Process(ctx, key, "whatsapp", "reach me at rahul@example.com about pricing")
	assert.False(t, d.RequestEmail)

	lead, err := s.GetLead(ctx, "t1", "15550001111")
	require.NoError(t, err)
	assert.Equal(t, "rahul@example.com", lead.Email)
	assert.Equal(t, "hello", lead.Interest, "interest comes from the first message")
}

func TestProcess_ResetReseedsFromStore(t *testing.T) {
	tr, s, _ := newTracker(t)
	ctx := context.Background()
	key := Key{TenantID: "t1", CounterpartyID: "15550001111"}

	tr.Process(ctx, key, "whatsapp", "My name is Rahul")
	tr.Reset(key)

	_, ok := tr.Flags(key)
	assert.False(t, ok)

	d := tr.Process(ctx, key, "whatsapp", "I want to buy")
	assert.False(t, d.RequestName, "name re-seeded from the stored lead")
	assert.True(t, d.RequestEmail)
	assert.Equal(t, "Rahul", d.Name)

	leads, err := s.ListLeads(ctx, "t1", 10)
	require.NoError(t, err)
	assert.Len(t, leads, 1, "stored lead untouched by reset")
}

func TestProcess_TenantsAreIndependent(t *testing.T) {
	tr, s, _ := newTracker(t)
	ctx := context.Background()

	tr.Process(ctx, Key{TenantID: "t1", CounterpartyID: "15550001111"}, "whatsapp", "hi")
	tr.Process(ctx, Key{TenantID: "t2", CounterpartyID: "15550001111"}, "whatsapp", "hi")

	_, err := s.GetLead(ctx, "t1", "15550001111")
	assert.NoError(t, err)
	_, err = s.GetLead(ctx, "t2", "15550001111")
	assert.NoError(t, err)
}

type failingLeads struct {
	store.LeadStore
}

func (failingLeads) GetLead(context.Context, string, string) (*store.Lead, error) {
	return nil, store.ErrNotFound
}

func (failingLeads) CreateLead(context.Context, *store.Lead) error {
	return errors.New("disk full")
}

func TestProcess_PersistenceFailureStillDirects(t *testing.T) {
	tr := NewTracker(failingLeads{}, nil, nil)
	key := Key{TenantID: "t1", CounterpartyID: "1"}

	d := tr.Process(context.Background(), key, "whatsapp", "can I get a quote?")
	assert.True(t, d.RequestEmail)

	flags, _ := tr.Flags(key)
	assert.False(t, flags.HasLead, "creation retried on the next message")
}

func TestProcess_UnissuedRequestsAreRepeated(t *testing.T) {
	tr, _, _ := newTracker(t)
	ctx := context.Background()
	key := Key{TenantID: "t1", CounterpartyID: "15550001111"}

	first := tr.Process(ctx, key, "whatsapp", "can I book a demo")
	require.True(t, first.RequestEmail)

	second := tr.Process(ctx, key, "whatsapp", "can I book a demo please")
	assert.True(t, second.RequestEmail, "first request was never issued")
	assert.True(t, second.RequestName)

	tr.MarkAsked(key, second)
	third := tr.Process(ctx, key, "whatsapp", "book it")
	assert.False(t, third.RequestEmail)
	assert.False(t, third.RequestName)
}

func TestMarkAsked_UnknownKeyIsNoop(t *testing.T) {
	tr, _, _ := newTracker(t)
	key := Key{TenantID: "t1", CounterpartyID: "1"}
	tr.MarkAsked(key, Directives{RequestEmail: true})
	_, ok := tr.Flags(key)
	assert.False(t, ok)
}
