// Package sources assembles the shipped adapter registries, one per group.
package sources

import (
	"github.com/edusentry/edusentry/libingest/driver"
	"github.com/edusentry/edusentry/sources/curated"
	"github.com/edusentry/edusentry/sources/news"
	"github.com/edusentry/edusentry/sources/rss"
)

// Registries returns the three adapter registries with every shipped adapter
// registered. Callers own the returned values; nothing here is global.
func Registries() []*driver.Registry {
	c := driver.NewRegistry(driver.GroupCurated)
	c.MustAdd(curated.New())
	n := driver.NewRegistry(driver.GroupNews)
	n.MustAdd(news.New())
	r := driver.NewRegistry(driver.GroupRSS)
	r.MustAdd(rss.New())
	return []*driver.Registry{c, n, r}
}
