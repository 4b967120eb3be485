package collab

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	syncerrors "github.com/alexjbarnes/deck-sync/internal/errors"
	"golang.org/x/sync/singleflight"
)

// timestampLayout is the wire format for subscription timestamps.
const timestampLayout = "2006-01-02 15:04:05"

// newInstallBackdate is subtracted from "now" when stamping a freshly
// installed subscription. Large decks are served from caches that may
// be a day stale, so the backdated timestamp guarantees the next
// regular pull re-fetches fresh data.
const newInstallBackdate = 24 * time.Hour

// applyJobChanSize is the buffer for jobs posted to the apply loop.
const applyJobChanSize = 8

// Store persists subscription state. Load is called at the start of
// every decision; Save after every state transition. Implementations
// need no transaction isolation because all calls come from the
// manager's single apply context.
type Store interface {
	Load() (map[string]Subscription, error)
	Save(map[string]Subscription) error
}

// UpdateResult reports what happened to one subscription's update.
type UpdateResult struct {
	DeckHash  string
	DeckName  string
	Choice    Choice
	Installed bool
}

// PullOutcome is the result of one pull cycle.
type PullOutcome struct {
	// UpToDate is true when the decoded change set was empty. No
	// subscription state was mutated.
	UpToDate bool

	Results []UpdateResult
}

// Manager drives the per-subscription state machine. Network I/O runs
// on the calling goroutine; application of decoded change sets is
// posted to the single apply loop started by Run, which owns all
// mutations to the collection and the subscription store.
//
// Concurrent Pull calls with the same scope coalesce through a
// single-flight group keyed by the focus hash, so one subscription is
// never fetched twice in parallel.
type Manager struct {
	store   Store
	client  *Client
	rec     *Reconciler
	decider Decider
	logger  *slog.Logger

	group   singleflight.Group
	applyCh chan applyJob

	// now is the clock used for timestamp bookkeeping.
	now func() time.Time
}

type applyJob struct {
	run    func() (PullOutcome, error)
	result chan applyResult
}

type applyResult struct {
	outcome PullOutcome
	err     error
}

// NewManager creates a subscription manager.
func NewManager(store Store, client *Client, rec *Reconciler, decider Decider, logger *slog.Logger) *Manager {
	return &Manager{
		store:   store,
		client:  client,
		rec:     rec,
		decider: decider,
		logger:  logger,
		applyCh: make(chan applyJob, applyJobChanSize),
		now:     time.Now,
	}
}

// Run is the apply loop. It executes posted application jobs one at a
// time until the context is cancelled. All collection and store
// mutations happen here.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case job := <-m.applyCh:
			outcome, err := job.run()
			job.result <- applyResult{outcome: outcome, err: err}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pull executes one pull cycle. With a focusHash the request is scoped
// to that single subscription (the first-time "add" flow); otherwise
// all known subscriptions are included. The fetch happens on the
// calling goroutine; decoded descriptors are applied on the Run loop.
func (m *Manager) Pull(ctx context.Context, focusHash string) (PullOutcome, error) {
	key := focusHash
	if key == "" {
		key = "*"
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		return m.pullCycle(ctx, focusHash)
	})
	if err != nil {
		return PullOutcome{}, err
	}

	return v.(PullOutcome), nil
}

func (m *Manager) pullCycle(ctx context.Context, focusHash string) (PullOutcome, error) {
	subs, err := m.store.Load()
	if err != nil {
		return PullOutcome{}, fmt.Errorf("loading subscriptions: %w", err)
	}

	if len(subs) == 0 {
		return PullOutcome{UpToDate: true}, nil
	}

	payload, err := EncodeRequest(subs, focusHash)
	if err != nil {
		return PullOutcome{}, err
	}

	body, err := m.client.PullChanges(ctx, payload)
	if err != nil {
		// Transport failure is terminal for this cycle and leaves every
		// subscription record unchanged.
		return PullOutcome{}, err
	}

	descriptors, err := DecodeResponse(body)
	if err != nil {
		return PullOutcome{}, err
	}

	return m.applyOnLoop(ctx, descriptors, focusHash)
}

// applyOnLoop posts the application of a decoded batch to the Run loop
// and waits for its result.
func (m *Manager) applyOnLoop(ctx context.Context, descriptors []UpdateDescriptor, focusHash string) (PullOutcome, error) {
	job := applyJob{
		run: func() (PullOutcome, error) {
			return m.apply(ctx, descriptors, focusHash)
		},
		result: make(chan applyResult, 1),
	}

	select {
	case m.applyCh <- job:
	case <-ctx.Done():
		return PullOutcome{}, ctx.Err()
	}

	select {
	case res := <-job.result:
		return res.outcome, res.err
	case <-ctx.Done():
		return PullOutcome{}, ctx.Err()
	}
}

// apply processes a decoded batch on the apply loop.
func (m *Manager) apply(ctx context.Context, descriptors []UpdateDescriptor, focusHash string) (PullOutcome, error) {
	if len(descriptors) == 0 {
		m.logger.Info("already up to date")
		return PullOutcome{UpToDate: true}, nil
	}

	// Re-read persisted state at the start of the decision: the host may
	// have rewritten it between fetch and apply.
	subs, err := m.store.Load()
	if err != nil {
		return PullOutcome{}, fmt.Errorf("loading subscriptions: %w", err)
	}

	outcome := PullOutcome{}

	for i := range descriptors {
		d := &descriptors[i]

		sub, ok := subs[d.DeckHash]
		if !ok {
			m.logger.Warn("update for unknown subscription", slog.String("deck_hash", d.DeckHash))
			continue
		}

		res, err := m.applyOne(ctx, subs, sub, d, focusHash)
		if err != nil {
			return outcome, err
		}

		outcome.Results = append(outcome.Results, res)
	}

	return outcome, nil
}

// applyOne runs the state machine for a single subscription's update.
func (m *Manager) applyOne(ctx context.Context, subs map[string]Subscription, sub Subscription, d *UpdateDescriptor, focusHash string) (UpdateResult, error) {
	res := UpdateResult{DeckHash: d.DeckHash, DeckName: d.Deck.Name}

	// First-time install of a just-added subscription: no changelog
	// confirmation, tags negotiated unconditionally, timestamp backdated
	// so the next regular pull bypasses server-side caching windows.
	if d.DeckHash == focusHash && !sub.Installed() {
		deckID, err := m.installUpdate(ctx, &sub, d, true)
		if err != nil {
			return res, err
		}

		sub.DeckID = deckID
		sub.Timestamp = m.now().UTC().Add(-newInstallBackdate).Format(timestampLayout)

		if err := m.persist(subs, sub); err != nil {
			return res, err
		}

		m.logger.Info("subscription installed",
			slog.String("deck_hash", sub.DeckHash),
			slog.Int64("deck_id", deckID),
		)

		res.Choice = ChoiceAccept
		res.Installed = true

		return res, nil
	}

	choice, err := m.decider.ConfirmChangelog(ctx, d.DeckHash, d.Changelog)
	if err != nil {
		return res, fmt.Errorf("confirming changelog for %s: %w", d.DeckHash, err)
	}

	res.Choice = choice

	switch choice {
	case ChoiceAccept:
		// A pending-install subscription can also arrive here through a
		// regular pull. Accepting it is a first install: tags are
		// negotiated unconditionally, the created deck id is backfilled,
		// and the timestamp is backdated like any other install.
		firstInstall := !sub.Installed()

		deckID, err := m.installUpdate(ctx, &sub, d, firstInstall)
		if err != nil {
			return res, err
		}

		if firstInstall {
			sub.DeckID = deckID
			sub.Timestamp = m.now().UTC().Add(-newInstallBackdate).Format(timestampLayout)
			res.Installed = true
		} else {
			sub.Timestamp = m.now().UTC().Format(timestampLayout)
		}

		if err := m.persist(subs, sub); err != nil {
			return res, err
		}

		m.logger.Info("update applied",
			slog.String("deck_hash", sub.DeckHash),
			slog.Bool("installed", firstInstall),
		)

	case ChoicePostpone:
		// Nothing changes; the update is re-offered next cycle.
		m.logger.Info("update postponed", slog.String("deck_hash", sub.DeckHash))

	case ChoiceAbort:
		// The timestamp still advances so the same change set counts as
		// seen and is not re-fetched verbatim. Nothing else is touched.
		sub.Timestamp = m.now().UTC().Format(timestampLayout)

		if err := m.persist(subs, sub); err != nil {
			return res, err
		}

		m.logger.Info("update aborted", slog.String("deck_hash", sub.DeckHash))
	}

	return res, nil
}

// installUpdate negotiates optional tags, builds the merge config, and
// applies the deck tree. It returns the root deck's local id. The
// subscription's tag selection and server-view bookkeeping are updated
// in place; the caller persists.
func (m *Manager) installUpdate(ctx context.Context, sub *Subscription, d *UpdateDescriptor, negotiateAlways bool) (int64, error) {
	if negotiateAlways || sub.TagNamesDiffer(d.OptionalTags) {
		selected, err := m.decider.SelectOptionalTags(ctx, sub.DeckHash, sub.OptionalTags, d.OptionalTags)
		if err != nil {
			return 0, fmt.Errorf("selecting optional tags for %s: %w", sub.DeckHash, err)
		}

		sub.OptionalTags = selected
	}

	cfg := NewMergeConfig(d.ProtectedFields, sub.EnabledTags(), len(d.OptionalTags) > 0)

	deckID, err := m.rec.ApplyDeck(ctx, d.Deck, cfg)
	if err != nil {
		return 0, fmt.Errorf("applying deck for %s: %w", sub.DeckHash, err)
	}

	sub.ProtectedFields = protectedMap(d.ProtectedFields)
	sub.MediaURL = d.MediaURL

	return deckID, nil
}

// persist writes the updated subscription back through the store. A
// lost write would re-apply an already-applied update next cycle, so
// failures surface instead of being swallowed.
func (m *Manager) persist(subs map[string]Subscription, sub Subscription) error {
	subs[sub.DeckHash] = sub

	if err := m.store.Save(subs); err != nil {
		return fmt.Errorf("%w: %s: %v", syncerrors.ErrConfigPersist, sub.DeckHash, err)
	}

	return nil
}

func protectedMap(models []ProtectedModel) map[string][]string {
	if len(models) == 0 {
		return nil
	}

	out := make(map[string][]string, len(models))

	for _, pm := range models {
		names := make([]string, 0, len(pm.Fields))
		for _, f := range pm.Fields {
			names = append(names, f.Name)
		}

		out[pm.Name] = names
	}

	return out
}
