package definition

import (
	"github.com/alucardeht/scss-lsp/internal/classifier"
	"github.com/alucardeht/scss-lsp/internal/document"
	"github.com/alucardeht/scss-lsp/internal/storage"
	"github.com/alucardeht/scss-lsp/internal/symbols"
)

// ErrOffsetOutOfRange is the only fault GoDefinition reports.
var ErrOffsetOutOfRange = document.ErrOffsetOutOfRange

// GoDefinition returns the declaration of the variable, mixin or function used
// at offset in doc. It returns nil without error when the cursor is on a
// declaration, a parameter, anything that is not a symbol, or a name nothing
// declares.
func GoDefinition(doc *document.Document, offset int, store *storage.Service, settings Settings) (*symbols.Location, error) {
	tc, err := classifier.Classify(doc.Text(), offset)
	if err != nil {
		return nil, err
	}
	if !tc.Resolvable() {
		return nil, nil
	}
	return NewResolver(store, settings).Resolve(tc, doc.URI()), nil
}
