package api

import (
	"github.com/QWERTYjc/GradeOS-sub003/internal/gradinglogs"
	"github.com/QWERTYjc/GradeOS-sub003/internal/patches"
	"github.com/QWERTYjc/GradeOS-sub003/internal/progress"
	"github.com/QWERTYjc/GradeOS-sub003/internal/regression"
	"github.com/QWERTYjc/GradeOS-sub003/internal/versions"
)

// stores holds the persistence backend of every domain system.
type stores struct {
	versions   versions.Store
	patches    patches.Store
	logs       gradinglogs.Store
	regression regression.Store
	progress   progress.Store
}

// newStores returns PostgreSQL repositories when the runtime carries a
// database and in-memory stores otherwise.
func newStores(runtime *Runtime) stores {
	if runtime.Database == nil {
		runtime.Logger.Warn("no database configured, domain state is in-memory")
		return stores{
			versions:   versions.NewMemory(),
			patches:    patches.NewMemory(),
			logs:       gradinglogs.NewMemory(),
			regression: regression.NewMemory(),
			progress:   progress.NewMemory(),
		}
	}

	db := runtime.Database.Connection()
	return stores{
		versions:   versions.NewRepository(db),
		patches:    patches.NewRepository(db),
		logs:       gradinglogs.NewRepository(db),
		regression: regression.NewRepository(db),
		progress:   progress.NewRepository(db),
	}
}
