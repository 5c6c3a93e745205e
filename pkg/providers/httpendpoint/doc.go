// Package httpendpoint provisions serverless endpoints through a
// provider's HTTP management API.
//
// It is the default DeployableResource implementation: each resource
// maps to one endpoint object on the provider, created from the
// resource's config and addressed afterwards by the server-assigned
// endpoint id and URL.
package httpendpoint
