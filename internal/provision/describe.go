package provision

import (
	"github.com/afterdarksys/mockfactory/internal/catalog"
	"github.com/afterdarksys/mockfactory/internal/store"
)

// Describe renders a service instance's connection descriptor. Every caller
// outside the container-env path passes masked=true; the real credential
// only flows into container environment variables and the store.
func (p *Provisioner) Describe(svc *store.ServiceInstance, masked bool) string {
	spec, err := catalog.Lookup(catalog.Kind(svc.Kind))
	if err != nil {
		return ""
	}
	if spec.Managed {
		return catalog.ManagedEndpoint(spec, svc.EnvironmentID, p.BaseDomain)
	}
	port := 0
	if svc.Port != nil {
		port = *svc.Port
	}
	return catalog.ConnectionString(spec, p.Host, port, svc.Password, masked)
}

// DescribeAll maps service kind to masked descriptor for API responses.
func (p *Provisioner) DescribeAll(services []*store.ServiceInstance) map[string]string {
	out := make(map[string]string, len(services))
	for _, svc := range services {
		out[svc.Kind] = p.Describe(svc, true)
	}
	return out
}
