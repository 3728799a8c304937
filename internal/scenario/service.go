package scenario

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/giantswarm/muster-scenario-core/internal/apierrors"
	"github.com/giantswarm/muster-scenario-core/internal/store"
	"github.com/giantswarm/muster-scenario-core/internal/template"
)

// TemplateRegistry is the subset of internal/config's Storage that the
// Service needs: lookup of a registered scenario template document by name.
// Kept as an interface so internal/scenario does not import internal/config
// (config depends on scenario's Document type, not the reverse).
type TemplateRegistry interface {
	Get(name string) (*Document, string, error) // doc, version, error
}

// Service is the orchestrator-facing facade combining the template engine,
// expander, publisher, dispatcher, and query API into one submission surface
// plus the worker protocol and read-side lookups. It holds no process-local
// mutable state beyond the immutable template cache behind its registry, so
// any number of Service-bearing processes can share one store.
type Service struct {
	templates  TemplateRegistry
	expander   *Expander
	publisher  *Publisher
	Dispatcher *Dispatcher
	Query      *Query

	mu sync.Mutex // serialises scenario id generation in newScenarioID
}

// NewService wires a Service from a Store and a template registry.
func NewService(s store.Store, templates TemplateRegistry) *Service {
	return &Service{
		templates:  templates,
		expander:   NewExpander(template.New()),
		publisher:  NewPublisher(s),
		Dispatcher: NewDispatcher(s),
		Query:      NewQuery(s),
	}
}

// RestrictServices limits submissions to templates whose tasks name only the
// given worker services (the SERVICE_NAMES configuration). An empty list
// accepts any service name.
func (svc *Service) RestrictServices(names []string) {
	svc.expander.restrictServices(names)
}

// SubmitScenario materialises templateName against parameters into a DAG and
// publishes it atomically, returning the fresh scenario id.
func (svc *Service) SubmitScenario(ctx context.Context, templateName string, parameters map[string]interface{}) (string, error) {
	doc, version, err := svc.templates.Get(templateName)
	if err != nil {
		return "", apierrors.NewUnknownTemplateError(templateName)
	}

	scenarioID := svc.newScenarioID()

	exp, err := svc.expander.Expand(doc, version, scenarioID, parameters)
	if err != nil {
		return "", err
	}

	if err := svc.publisher.Publish(ctx, exp); err != nil {
		return "", err
	}

	return scenarioID, nil
}

func (svc *Service) newScenarioID() string {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return fmt.Sprintf("scn-%s", uuid.NewString())
}
