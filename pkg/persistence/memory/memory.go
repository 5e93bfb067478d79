// Package memory provides an in-memory persistence implementation used by
// engine unit tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/persistence"
)

// Persistence implements persistence.Repository over in-process maps. Units of
// work are serialized by a single mutex and rolled back by snapshot restore,
// which gives the same stale-step guarantee the SQL implementation gets from
// row locks.
type txMarker struct{}

type Persistence struct {
	mu sync.Mutex

	transactions       map[string]*models.Transaction
	steps              map[string]*models.TransactionStep
	workflowTemplates  map[string]*models.WorkflowTemplate
	conditionTemplates map[string]*models.ConditionTemplate
	profiles           map[string]*models.TransactionProfile
	conditions         map[string]*models.Condition
	conditionEvents    map[string][]*models.ConditionEvent
	offers             map[string]*models.Offer
}

// NewPersistence creates an empty in-memory repository.
func NewPersistence() *Persistence {
	return &Persistence{
		transactions:       make(map[string]*models.Transaction),
		steps:              make(map[string]*models.TransactionStep),
		workflowTemplates:  make(map[string]*models.WorkflowTemplate),
		conditionTemplates: make(map[string]*models.ConditionTemplate),
		profiles:           make(map[string]*models.TransactionProfile),
		conditions:         make(map[string]*models.Condition),
		conditionEvents:    make(map[string][]*models.ConditionEvent),
		offers:             make(map[string]*models.Offer),
	}
}

// Transactional serializes the unit of work behind the mutex and restores a
// snapshot of all stores if fn fails. Nesting is tracked through the context
// so repository calls made inside fn do not re-lock.
func (p *Persistence) Transactional(ctx context.Context, fn func(ctx context.Context, repo persistence.Repository) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx, p)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := p.snapshot()

	err := fn(context.WithValue(ctx, txMarker{}, true), p)
	if err != nil {
		p.restore(snapshot)

		return err
	}

	return nil
}

type state struct {
	transactions       map[string]*models.Transaction
	steps              map[string]*models.TransactionStep
	workflowTemplates  map[string]*models.WorkflowTemplate
	conditionTemplates map[string]*models.ConditionTemplate
	profiles           map[string]*models.TransactionProfile
	conditions         map[string]*models.Condition
	conditionEvents    map[string][]*models.ConditionEvent
	offers             map[string]*models.Offer
}

func (p *Persistence) snapshot() state {
	s := state{
		transactions:       make(map[string]*models.Transaction, len(p.transactions)),
		steps:              make(map[string]*models.TransactionStep, len(p.steps)),
		workflowTemplates:  make(map[string]*models.WorkflowTemplate, len(p.workflowTemplates)),
		conditionTemplates: make(map[string]*models.ConditionTemplate, len(p.conditionTemplates)),
		profiles:           make(map[string]*models.TransactionProfile, len(p.profiles)),
		conditions:         make(map[string]*models.Condition, len(p.conditions)),
		conditionEvents:    make(map[string][]*models.ConditionEvent, len(p.conditionEvents)),
		offers:             make(map[string]*models.Offer, len(p.offers)),
	}

	for id, t := range p.transactions {
		s.transactions[id] = copyTransaction(t)
	}

	for id, st := range p.steps {
		s.steps[id] = copyStep(st)
	}

	for id, wt := range p.workflowTemplates {
		s.workflowTemplates[id] = wt
	}

	for id, ct := range p.conditionTemplates {
		s.conditionTemplates[id] = ct
	}

	for id, pr := range p.profiles {
		s.profiles[id] = copyProfile(pr)
	}

	for id, c := range p.conditions {
		s.conditions[id] = copyCondition(c)
	}

	for id, evs := range p.conditionEvents {
		s.conditionEvents[id] = append([]*models.ConditionEvent(nil), evs...)
	}

	for id, o := range p.offers {
		s.offers[id] = copyOffer(o)
	}

	return s
}

func (p *Persistence) restore(s state) {
	p.transactions = s.transactions
	p.steps = s.steps
	p.workflowTemplates = s.workflowTemplates
	p.conditionTemplates = s.conditionTemplates
	p.profiles = s.profiles
	p.conditions = s.conditions
	p.conditionEvents = s.conditionEvents
	p.offers = s.offers
}

func (p *Persistence) lock(ctx context.Context) func() {
	if ctx.Value(txMarker{}) != nil {
		return func() {}
	}

	p.mu.Lock()

	return p.mu.Unlock
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate ID: %w", err)
	}

	return id.String(), nil
}

// Transactions.

func (p *Persistence) CreateTransaction(ctx context.Context, transaction *models.Transaction) error {
	defer p.lock(ctx)()

	if transaction.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		transaction.ID = id
	}

	now := time.Now().UTC()
	if transaction.CreatedAt.IsZero() {
		transaction.CreatedAt = now
	}

	transaction.UpdatedAt = now
	p.transactions[transaction.ID] = copyTransaction(transaction)

	return nil
}

func (p *Persistence) TransactionByID(ctx context.Context, id string) (*models.Transaction, error) {
	defer p.lock(ctx)()

	transaction, ok := p.transactions[id]
	if !ok || transaction.DeletedAt != nil {
		return nil, persistence.ErrTransactionNotFound
	}

	return copyTransaction(transaction), nil
}

func (p *Persistence) UpdateTransaction(ctx context.Context, transaction *models.Transaction) error {
	defer p.lock(ctx)()

	_, ok := p.transactions[transaction.ID]
	if !ok {
		return persistence.ErrTransactionNotFound
	}

	transaction.UpdatedAt = time.Now().UTC()
	p.transactions[transaction.ID] = copyTransaction(transaction)

	return nil
}

// Steps.

func (p *Persistence) CreateSteps(ctx context.Context, steps []*models.TransactionStep) error {
	defer p.lock(ctx)()

	for _, step := range steps {
		for _, existing := range p.steps {
			if existing.TransactionID == step.TransactionID && existing.StepOrder == step.StepOrder {
				return persistence.ErrStepOrderConflict
			}
		}

		if step.ID == "" {
			id, err := newID()
			if err != nil {
				return err
			}

			step.ID = id
		}

		p.steps[step.ID] = copyStep(step)
	}

	return nil
}

func (p *Persistence) StepByID(ctx context.Context, id string) (*models.TransactionStep, error) {
	defer p.lock(ctx)()

	step, ok := p.steps[id]
	if !ok {
		return nil, persistence.ErrStepNotFound
	}

	return copyStep(step), nil
}

func (p *Persistence) LockStep(ctx context.Context, id string) (*models.TransactionStep, error) {
	return p.StepByID(ctx, id)
}

func (p *Persistence) StepsByTransaction(ctx context.Context, transactionID string) ([]*models.TransactionStep, error) {
	defer p.lock(ctx)()

	steps := make([]*models.TransactionStep, 0)

	for _, step := range p.steps {
		if step.TransactionID == transactionID {
			steps = append(steps, copyStep(step))
		}
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })

	return steps, nil
}

func (p *Persistence) StepByOrder(ctx context.Context, transactionID string, order int) (*models.TransactionStep, error) {
	defer p.lock(ctx)()

	for _, step := range p.steps {
		if step.TransactionID == transactionID && step.StepOrder == order {
			return copyStep(step), nil
		}
	}

	return nil, persistence.ErrStepNotFound
}

func (p *Persistence) UpdateStep(ctx context.Context, step *models.TransactionStep) error {
	defer p.lock(ctx)()

	_, ok := p.steps[step.ID]
	if !ok {
		return persistence.ErrStepNotFound
	}

	p.steps[step.ID] = copyStep(step)

	return nil
}

// Workflow templates.

func (p *Persistence) SaveWorkflowTemplate(ctx context.Context, template *models.WorkflowTemplate) error {
	defer p.lock(ctx)()

	if template.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		template.ID = id
	}

	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now
	p.workflowTemplates[template.ID] = template

	return nil
}

func (p *Persistence) WorkflowTemplateByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	defer p.lock(ctx)()

	template, ok := p.workflowTemplates[id]
	if !ok {
		return nil, persistence.ErrWorkflowTemplateNotFound
	}

	return template, nil
}

// Condition templates.

func (p *Persistence) SaveConditionTemplate(ctx context.Context, template *models.ConditionTemplate) error {
	defer p.lock(ctx)()

	if template.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		template.ID = id
	}

	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now
	p.conditionTemplates[template.ID] = template

	return nil
}

func (p *Persistence) ActiveConditionTemplates(ctx context.Context) ([]*models.ConditionTemplate, error) {
	defer p.lock(ctx)()

	templates := make([]*models.ConditionTemplate, 0)

	for _, template := range p.conditionTemplates {
		if template.Active {
			templates = append(templates, template)
		}
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].CreatedAt.Before(templates[j].CreatedAt)
	})

	return templates, nil
}

// Profiles.

func (p *Persistence) SaveProfile(ctx context.Context, profile *models.TransactionProfile) error {
	defer p.lock(ctx)()

	if profile.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		profile.ID = id
	}

	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}

	profile.UpdatedAt = now
	p.profiles[profile.TransactionID] = copyProfile(profile)

	return nil
}

func (p *Persistence) ProfileByTransaction(ctx context.Context, transactionID string) (*models.TransactionProfile, error) {
	defer p.lock(ctx)()

	profile, ok := p.profiles[transactionID]
	if !ok {
		return nil, persistence.ErrProfileNotFound
	}

	return copyProfile(profile), nil
}

// Conditions.

func (p *Persistence) CreateCondition(ctx context.Context, condition *models.Condition) error {
	defer p.lock(ctx)()

	return p.insertCondition(condition)
}

func (p *Persistence) CreateTemplateCondition(ctx context.Context, condition *models.Condition) (bool, error) {
	defer p.lock(ctx)()

	if condition.TemplateID != nil {
		for _, existing := range p.conditions {
			if existing.TransactionID == condition.TransactionID &&
				existing.TemplateID != nil && *existing.TemplateID == *condition.TemplateID {
				return false, nil
			}
		}
	}

	err := p.insertCondition(condition)
	if err != nil {
		return false, err
	}

	return true, nil
}

func (p *Persistence) insertCondition(condition *models.Condition) error {
	if condition.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		condition.ID = id
	}

	if condition.CreatedAt.IsZero() {
		condition.CreatedAt = time.Now().UTC()
	}

	p.conditions[condition.ID] = copyCondition(condition)

	return nil
}

func (p *Persistence) ConditionByID(ctx context.Context, id string) (*models.Condition, error) {
	defer p.lock(ctx)()

	condition, ok := p.conditions[id]
	if !ok {
		return nil, persistence.ErrConditionNotFound
	}

	return copyCondition(condition), nil
}

func (p *Persistence) UpdateCondition(ctx context.Context, condition *models.Condition) error {
	defer p.lock(ctx)()

	_, ok := p.conditions[condition.ID]
	if !ok {
		return persistence.ErrConditionNotFound
	}

	p.conditions[condition.ID] = copyCondition(condition)

	return nil
}

func (p *Persistence) ConditionsByTransaction(ctx context.Context, transactionID string) ([]*models.Condition, error) {
	defer p.lock(ctx)()

	return p.filterConditions(func(c *models.Condition) bool {
		return c.TransactionID == transactionID
	}), nil
}

func (p *Persistence) ConditionsByStep(ctx context.Context, stepID string) ([]*models.Condition, error) {
	defer p.lock(ctx)()

	return p.filterConditions(func(c *models.Condition) bool {
		return c.StepID != nil && *c.StepID == stepID
	}), nil
}

func (p *Persistence) PendingBlockingConditions(ctx context.Context, stepID string) ([]*models.Condition, error) {
	defer p.lock(ctx)()

	return p.filterConditions(func(c *models.Condition) bool {
		return c.StepID != nil && *c.StepID == stepID &&
			!c.Archived && c.Pending() && c.EffectiveLevel() == models.LevelBlocking
	}), nil
}

func (p *Persistence) DueConditions(ctx context.Context, by time.Time) ([]*models.Condition, error) {
	defer p.lock(ctx)()

	due := p.filterConditions(func(c *models.Condition) bool {
		return !c.Archived && c.Pending() && c.DueDate != nil && !c.DueDate.After(by)
	})

	sort.Slice(due, func(i, j int) bool { return due[i].DueDate.Before(*due[j].DueDate) })

	return due, nil
}

func (p *Persistence) filterConditions(keep func(*models.Condition) bool) []*models.Condition {
	conditions := make([]*models.Condition, 0)

	for _, condition := range p.conditions {
		if keep(condition) {
			conditions = append(conditions, copyCondition(condition))
		}
	}

	sort.Slice(conditions, func(i, j int) bool {
		return conditions[i].CreatedAt.Before(conditions[j].CreatedAt)
	})

	return conditions
}

// Condition events.

func (p *Persistence) AppendConditionEvent(ctx context.Context, event *models.ConditionEvent) error {
	defer p.lock(ctx)()

	if event.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		event.ID = id
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	p.conditionEvents[event.ConditionID] = append(p.conditionEvents[event.ConditionID], event)

	return nil
}

func (p *Persistence) ConditionEvents(ctx context.Context, conditionID string) ([]*models.ConditionEvent, error) {
	defer p.lock(ctx)()

	return append([]*models.ConditionEvent(nil), p.conditionEvents[conditionID]...), nil
}

// Offers.

func (p *Persistence) CreateOffer(ctx context.Context, offer *models.Offer) error {
	defer p.lock(ctx)()

	if offer.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		offer.ID = id
	}

	now := time.Now().UTC()
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = now
	}

	offer.UpdatedAt = now
	p.offers[offer.ID] = copyOffer(offer)

	return nil
}

func (p *Persistence) OfferByID(ctx context.Context, id string) (*models.Offer, error) {
	defer p.lock(ctx)()

	offer, ok := p.offers[id]
	if !ok {
		return nil, persistence.ErrOfferNotFound
	}

	return copyOffer(offer), nil
}

func (p *Persistence) UpdateOffer(ctx context.Context, offer *models.Offer) error {
	defer p.lock(ctx)()

	_, ok := p.offers[offer.ID]
	if !ok {
		return persistence.ErrOfferNotFound
	}

	offer.UpdatedAt = time.Now().UTC()
	p.offers[offer.ID] = copyOffer(offer)

	return nil
}

func (p *Persistence) OffersByTransaction(ctx context.Context, transactionID string) ([]*models.Offer, error) {
	defer p.lock(ctx)()

	offers := make([]*models.Offer, 0)

	for _, offer := range p.offers {
		if offer.TransactionID == transactionID {
			offers = append(offers, copyOffer(offer))
		}
	}

	sort.Slice(offers, func(i, j int) bool {
		return offers[i].CreatedAt.After(offers[j].CreatedAt)
	})

	return offers, nil
}

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }

func copyTransaction(t *models.Transaction) *models.Transaction {
	c := *t

	return &c
}

func copyStep(s *models.TransactionStep) *models.TransactionStep {
	c := *s

	return &c
}

func copyProfile(p *models.TransactionProfile) *models.TransactionProfile {
	c := *p

	return &c
}

func copyCondition(cond *models.Condition) *models.Condition {
	c := *cond

	return &c
}

func copyOffer(o *models.Offer) *models.Offer {
	c := *o

	return &c
}
