package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/immotrace/contact-pipeline/internal/config"
	"github.com/immotrace/contact-pipeline/internal/contact"
)

func TestSet_PoolsAllExtractors(t *testing.T) {
	t.Parallel()
	images := imageStore(map[string][]byte{"img-1": []byte("blob-1")})
	client := &fakeOCRClient{texts: map[string]string{"blob-1": "buero@example.de"}}
	set := NewSet(config.ExtractConfig{OCRPenalty: 0.7, OCREnabled: true}, client, images, zap.NewNop())

	listing := contact.RawListing{
		ID:         "listing-3",
		SourceName: "immowelt",
		BodyText:   "Kontakt: max@example.com oder +49 89 1234567",
		HTMLFragment: `<form action="/kontakt"><input name="email"></form>`,
		ImageRefs:  []string{"img-1"},
	}
	cands := set.ExtractAll(context.Background(), listing)

	kinds := map[contact.ExtractorKind]int{}
	for _, c := range cands {
		kinds[c.Extractor]++
	}
	require.Equal(t, 1, kinds[contact.ExtractorEmail])
	require.Equal(t, 1, kinds[contact.ExtractorPhone])
	require.Equal(t, 1, kinds[contact.ExtractorForm])
	require.Equal(t, 1, kinds[contact.ExtractorOCR])
}

func TestSet_OCRDisabled(t *testing.T) {
	t.Parallel()
	set := NewSet(config.ExtractConfig{OCREnabled: false}, nil, nil, zap.NewNop())

	listing := contact.RawListing{
		ID:         "listing-4",
		SourceName: "immowelt",
		BodyText:   "max@example.com",
		ImageRefs:  []string{"img-1"},
	}
	cands := set.ExtractAll(context.Background(), listing)
	for _, c := range cands {
		require.NotEqual(t, contact.ExtractorOCR, c.Extractor)
	}
}

func TestSet_MalformedInputIsHarmless(t *testing.T) {
	t.Parallel()
	set := NewSet(config.ExtractConfig{}, nil, nil, zap.NewNop())

	listing := contact.RawListing{
		ID:           "listing-5",
		SourceName:   "immowelt",
		BodyText:     string([]byte{0xff, 0xfe, 0x00}),
		HTMLFragment: "<form <<<< broken",
	}
	require.NotPanics(t, func() {
		set.ExtractAll(context.Background(), listing)
	})
}
