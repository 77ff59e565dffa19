package ota

import (
	"testing"
)

func TestParseNotification(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		want    Descriptor
		wantOK  bool
	}{
		{
			name: "top level attributes",
			payload: `{"fw_title":"tidewatch","fw_version":"2.0.0","fw_size":1024,
				"fw_checksum":"abcd","fw_checksum_algorithm":"SHA256"}`,
			want:   Descriptor{Title: "tidewatch", Version: "2.0.0", Size: 1024, Checksum: "abcd", ChecksumAlgorithm: "SHA256"},
			wantOK: true,
		},
		{
			name: "wrapped under data",
			payload: `{"data":{"fw_title":"tidewatch","fw_version":"2.0.0","fw_size":1024,
				"fw_checksum":"abcd","fw_checksum_algorithm":"SHA256"}}`,
			want:   Descriptor{Title: "tidewatch", Version: "2.0.0", Size: 1024, Checksum: "abcd", ChecksumAlgorithm: "SHA256"},
			wantOK: true,
		},
		{
			name: "wrapped under shared",
			payload: `{"shared":{"fw_title":"tidewatch","fw_version":"2.0.0","fw_size":1024,
				"fw_checksum":"abcd","fw_checksum_algorithm":"SHA256"}}`,
			want:   Descriptor{Title: "tidewatch", Version: "2.0.0", Size: 1024, Checksum: "abcd", ChecksumAlgorithm: "SHA256"},
			wantOK: true,
		},
		{
			name: "data wins over shared",
			payload: `{"data":{"fw_title":"a","fw_version":"1","fw_size":1,"fw_checksum":"x","fw_checksum_algorithm":"NONE"},
				"shared":{"fw_title":"b","fw_version":"2","fw_size":2,"fw_checksum":"y","fw_checksum_algorithm":"NONE"}}`,
			want:   Descriptor{Title: "a", Version: "1", Size: 1, Checksum: "x", ChecksumAlgorithm: "NONE"},
			wantOK: true,
		},
		{
			name: "non-object data falls through to top level",
			payload: `{"data":42,"fw_title":"tidewatch","fw_version":"2.0.0","fw_size":1024,
				"fw_checksum":"abcd","fw_checksum_algorithm":"SHA256"}`,
			want:   Descriptor{Title: "tidewatch", Version: "2.0.0", Size: 1024, Checksum: "abcd", ChecksumAlgorithm: "SHA256"},
			wantOK: true,
		},
		{
			name: "direct url carried through",
			payload: `{"fw_title":"tidewatch","fw_version":"2.0.0","fw_size":1024,
				"fw_checksum":"abcd","fw_checksum_algorithm":"SHA256","fw_url":"https://dist.example/fw.bin"}`,
			want: Descriptor{Title: "tidewatch", Version: "2.0.0", Size: 1024, Checksum: "abcd",
				ChecksumAlgorithm: "SHA256", URL: "https://dist.example/fw.bin"},
			wantOK: true,
		},
		{
			name:    "missing version",
			payload: `{"fw_title":"tidewatch","fw_size":1024,"fw_checksum":"abcd","fw_checksum_algorithm":"SHA256"}`,
			wantOK:  false,
		},
		{
			name:    "size is not a number",
			payload: `{"fw_title":"t","fw_version":"2","fw_size":"big","fw_checksum":"abcd","fw_checksum_algorithm":"SHA256"}`,
			wantOK:  false,
		},
		{
			name:    "unrelated attribute update",
			payload: `{"reportingInterval":30,"displayBrightness":80}`,
			wantOK:  false,
		},
		{
			name:    "malformed json",
			payload: `{"fw_title":`,
			wantOK:  false,
		},
		{
			name:    "json but not an object",
			payload: `[1,2,3]`,
			wantOK:  false,
		},
		{
			name:    "empty payload",
			payload: ``,
			wantOK:  false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseNotification([]byte(tc.payload))
			if ok != tc.wantOK {
				t.Fatalf("ParseNotification() ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && got != tc.want {
				t.Errorf("ParseNotification() = %+v, want %+v", got, tc.want)
			}
		})
	}
}
