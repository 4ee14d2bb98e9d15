package fonts

import (
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// fallbackFonts are always available regardless of what the host reports.
var fallbackFonts = []string{
	"Arial",
	"Courier New",
	"Georgia",
	"Helvetica",
	"Impact",
	"Inter",
	"Times New Roman",
	"Verdana",
}

var (
	catalogueOnce sync.Once
	catalogueMu   sync.Mutex
	catalogue     []string
	catalogueSet  map[string]struct{}
)

// initCatalogue builds the enabled-font list: the built-in fallbacks plus any
// comma-separated families from FONTS_EXTRA.
func initCatalogue() {
	names := make([]string, 0, len(fallbackFonts))
	names = append(names, fallbackFonts...)

	if extra := strings.TrimSpace(os.Getenv("FONTS_EXTRA")); extra != "" {
		for _, name := range strings.Split(extra, ",") {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				names = append(names, trimmed)
			}
		}
	}

	sort.Strings(names)
	deduped := names[:0]
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		key := strings.ToLower(name)
		if _, seen := set[key]; seen {
			continue
		}
		set[key] = struct{}{}
		deduped = append(deduped, name)
	}

	catalogueMu.Lock()
	catalogue = deduped
	catalogueSet = set
	catalogueMu.Unlock()
	log.Printf("fonts: catalogue initialised with %d families", len(deduped))
}

// List returns the enabled font families, sorted.
func List() []string {
	catalogueOnce.Do(initCatalogue)
	catalogueMu.Lock()
	defer catalogueMu.Unlock()
	out := make([]string, len(catalogue))
	copy(out, catalogue)
	return out
}

// Allowed reports whether a family name is in the catalogue. The empty name
// is allowed: text layers may defer to the client default.
func Allowed(family string) bool {
	trimmed := strings.TrimSpace(family)
	if trimmed == "" {
		return true
	}
	catalogueOnce.Do(initCatalogue)
	catalogueMu.Lock()
	defer catalogueMu.Unlock()
	_, ok := catalogueSet[strings.ToLower(trimmed)]
	return ok
}

type Module struct{}

func RegisterRoutes(router *gin.Engine) (*Module, error) {
	module := &Module{}
	router.GET("/fonts", module.handleList)
	return module, nil
}

func (m *Module) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fonts": List()})
}
