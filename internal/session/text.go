package session

// User-facing texts. The assistant speaks Indonesian.
const (
	greetingText = "Halo, salam kenal! Aku OOGIV. AI Assistant yang siap membantu Kamu dalam memahami materi. " +
		"Jangan lupa input materi yang ingin ditanyakan yaa..!"

	materialAckText     = "Materi berhasil diproses! Sekarang Anda dapat mengajukan pertanyaan tentang materi tersebut."
	materialFailureText = "Maaf, terjadi kesalahan saat memproses materi. Silakan coba lagi."
	queryFailureText    = "Maaf, terjadi kesalahan saat memproses pertanyaan Anda. Silakan coba lagi."
	emptyReplyText      = "Maaf, tidak ada respons yang bisa ditampilkan dari server."

	noticeMaterialProcessed = "Materi berhasil diproses!"
	noticeMaterialFailed    = "Gagal memproses materi. Silakan coba lagi."
	noticeBusy              = "Mohon tunggu, bot sedang merespons..."
	noticeNoFiles           = "Silakan pilih file untuk diproses terlebih dahulu."
	noticeNoURL             = "Silakan masukkan URL YouTube terlebih dahulu."
	noticeMixedMaterial     = "Pilih salah satu sumber materi: file atau URL YouTube."

	noticeNotProcessed = "Silakan proses materi terlebih dahulu sebelum mengajukan pertanyaan."
	noticeFilesLost    = "Data materi hilang. Silakan upload dan proses file ulang."
	noticeURLLost      = "URL YouTube hilang. Silakan input dan proses URL YouTube ulang."
)
