package session

// Storage keys of a browser session.
const (
	KeyMessages           = "consultation_messages"
	KeyMaterialsProcessed = "materials_processed"
	KeyMaterialSource     = "material_source"
	KeyFilesMetadata      = "processed_files_metadata"
	KeyFilesData          = "processed_files_data"
	KeyYouTubeURL         = "processed_youtube_url"

	// KeyGeneratedContent and KeyGenerateMetadata hold the cached question generation result.
	KeyGeneratedContent = "generated_content_cache"
	KeyGenerateMetadata = "generate_metadata"
)

// KnownKeys lists every key a session may write. Clear removes all of them.
var KnownKeys = []string{
	KeyMessages,
	KeyMaterialsProcessed,
	KeyMaterialSource,
	KeyFilesMetadata,
	KeyFilesData,
	KeyYouTubeURL,
	KeyGeneratedContent,
	KeyGenerateMetadata,
}

// materialKeys are dropped whenever the material has to be forgotten. The source tag survives: it
// records which kind of material the user picked, not the material itself.
var materialKeys = []string{
	KeyMaterialsProcessed,
	KeyFilesMetadata,
	KeyFilesData,
	KeyYouTubeURL,
}
