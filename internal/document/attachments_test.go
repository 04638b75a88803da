package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachments(t *testing.T) {
	doc := mustParse(t, `{"blocks":[
		{"id":"good","type":"image","data":{"file":{"url":"data:image/jpeg;base64,QUJD"}}},
		{"id":"nocomma","type":"image","data":{"file":{"url":"data:image/png;base64QUJD"}}},
		{"id":"empty","type":"image","data":{"file":{"url":"data:image/png;base64,"}}},
		{"id":"remote","type":"image","data":{"file":{"url":"https://example.com/a,b.png"}}},
		{"id":"nofile","type":"image","data":{"caption":"x"}},
		{"id":"","type":"image","data":{"file":{"url":"data:image/png;base64,QUJD"}}},
		{"id":"para","type":"paragraph","data":{"text":"data:image/png;base64,QUJD"}}
	]}`)

	atts := Attachments(doc)
	require.Len(t, atts, 1)
	assert.Equal(t, "image-good.png", atts[0].Filename)
	assert.Equal(t, "QUJD", atts[0].Content)
	assert.Equal(t, "base64", atts[0].Encoding)
	assert.Equal(t, "good", atts[0].ContentID)
	assert.Equal(t, "image/jpeg", atts[0].ContentType)
}

func TestAttachmentsSingleMalformedImage(t *testing.T) {
	doc := mustParse(t, `{"blocks":[{"id":"img","type":"image","data":{"file":{"url":"not-a-data-url"}}}]}`)

	assert.NotPanics(t, func() {
		assert.Empty(t, Attachments(doc))
	})
}
