package falclient

import "testing"

func TestNormalizeImages(t *testing.T) {
	tests := []struct {
		name    string
		resp    generateResponse
		wantLen int
		wantURL string
	}{
		{
			name: "top-level images array",
			resp: generateResponse{
				Images: []imagePayload{{URL: "https://cdn/a.jpg"}, {URL: "https://cdn/b.jpg"}},
			},
			wantLen: 2,
			wantURL: "https://cdn/a.jpg",
		},
		{
			name: "single top-level image",
			resp: generateResponse{
				Image: &imagePayload{URL: "https://cdn/single.png", Width: 1024, Height: 1024},
			},
			wantLen: 1,
			wantURL: "https://cdn/single.png",
		},
		{
			name: "images nested under data",
			resp: generateResponse{
				Data: &struct {
					Images []imagePayload `json:"images"`
					Image  *imagePayload  `json:"image"`
				}{Images: []imagePayload{{URL: "https://cdn/nested.jpg"}}},
			},
			wantLen: 1,
			wantURL: "https://cdn/nested.jpg",
		},
		{
			name: "single image nested under data",
			resp: generateResponse{
				Data: &struct {
					Images []imagePayload `json:"images"`
					Image  *imagePayload  `json:"image"`
				}{Image: &imagePayload{URL: "https://cdn/nested-single.jpg"}},
			},
			wantLen: 1,
			wantURL: "https://cdn/nested-single.jpg",
		},
		{
			name: "top-level array preferred over nested",
			resp: generateResponse{
				Images: []imagePayload{{URL: "https://cdn/top.jpg"}},
				Data: &struct {
					Images []imagePayload `json:"images"`
					Image  *imagePayload  `json:"image"`
				}{Images: []imagePayload{{URL: "https://cdn/nested.jpg"}}},
			},
			wantLen: 1,
			wantURL: "https://cdn/top.jpg",
		},
		{
			name:    "empty response yields no images",
			resp:    generateResponse{},
			wantLen: 0,
		},
		{
			name: "entries without urls are dropped",
			resp: generateResponse{
				Images: []imagePayload{{URL: ""}, {URL: "https://cdn/kept.jpg"}},
			},
			wantLen: 1,
			wantURL: "https://cdn/kept.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeImages(tt.resp)
			if len(got) != tt.wantLen {
				t.Fatalf("expected %d images, got %d", tt.wantLen, len(got))
			}
			if tt.wantLen > 0 && got[0].URL != tt.wantURL {
				t.Fatalf("expected first image url %q, got %q", tt.wantURL, got[0].URL)
			}
		})
	}
}
