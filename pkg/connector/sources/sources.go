// Package sources registers every source connector with the default registry.
// Import it for side effects:
//
//	import _ "github.com/ajitpratap0/tributary/pkg/connector/sources"
package sources

import (
	// Import all source connectors to trigger init() registration
	_ "github.com/ajitpratap0/tributary/pkg/connector/sources/harvest"
	_ "github.com/ajitpratap0/tributary/pkg/connector/sources/hubspot"
	_ "github.com/ajitpratap0/tributary/pkg/connector/sources/jira"
	_ "github.com/ajitpratap0/tributary/pkg/connector/sources/mailchimp"
	_ "github.com/ajitpratap0/tributary/pkg/connector/sources/odoo"
	_ "github.com/ajitpratap0/tributary/pkg/connector/sources/quickbooks"
	_ "github.com/ajitpratap0/tributary/pkg/connector/sources/salesforce"
	_ "github.com/ajitpratap0/tributary/pkg/connector/sources/zoho"
)
