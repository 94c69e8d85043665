package odoo

import "github.com/ajitpratap0/tributary/pkg/connector/registry"

func init() {
	registry.Default().MustRegister(Info, New)
}
