package steam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/pagearchive/internal/types"
)

const screenshotsHTML = `<html><body>
<div class="apphub_Card modalContentLink interactable" id="apphub_Card_AB12">
  <img class="apphub_CardContentPreviewImage" src="x"
       srcset="https://steamuserimages-a.akamaihd.net/ugc/1/A/?imw=512 512w, https://steamuserimages-a.akamaihd.net/ugc/1/A/?imw=1024 1024w">
</div>
<div class="apphub_Card modalContentLink interactable" id="apphub_Card_CD34">
  <img srcset="https://cdn.example.com/ugc/2/B/ 800w">
</div>
<div class="apphub_Card modalContentLink interactable" id="apphub_Card_EF56">
  <img src="no-srcset.jpg">
</div>
</body></html>`

func TestScreenshotsPage(t *testing.T) {
	batch, err := ScreenshotsPage().Extract([]byte(screenshotsHTML))
	require.NoError(t, err)

	require.Len(t, batch.Records, 2)
	assert.Equal(t, "AB12", batch.Records[0].ID)
	assert.Equal(t, RecordScreenshots, batch.Records[0].Type)
	assert.Contains(t, batch.Records[0].Payload, "apphub_Card_AB12")
	assert.Equal(t, "CD34", batch.Records[1].ID)

	require.Len(t, batch.Associations, 2)
	assert.Equal(t, types.Association{
		Relation: RelScreenshotImages,
		ParentID: "AB12",
		ChildID:  "https://steamuserimages-a.akamaihd.net/ugc/1/A/?imw=1024",
	}, batch.Associations[0])

	require.Len(t, batch.Assets, 1)
	assert.Equal(t, types.Asset{
		Origin: UserImagesOrigin,
		Path:   "/ugc/1/A/?imw=1024",
		File:   "screenshots/AB12.png",
	}, batch.Assets[0])

	assert.Len(t, batch.Anomalies, 2)
}

func TestScreenshotsPageEmpty(t *testing.T) {
	batch, err := ScreenshotsPage().Extract([]byte(`<html><body><div class="no_results"></div></body></html>`))
	require.NoError(t, err)
	assert.True(t, batch.Empty())
}

func TestBestSrcSetURL(t *testing.T) {
	assert.Equal(t, "b", BestSrcSetURL("a 100w, b 300w, c 200w"))
	assert.Equal(t, "", BestSrcSetURL("a 1x, b"))
	assert.Equal(t, "", BestSrcSetURL(""))
}

const guidesHTML = `<html><body>
<a class="workshopItemCollection" href="https://steamcommunity.com/sharedfiles/filedetails/?id=111">Guide one</a>
<a href="https://steamcommunity.com/sharedfiles/filedetails/?id=111"><img></a>
<a href="https://steamcommunity.com/sharedfiles/filedetails/?id=222">Guide two</a>
<a href="https://steamcommunity.com/app/440/">Hub</a>
</body></html>`

func TestGuidesPage(t *testing.T) {
	batch, err := GuidesPage().Extract([]byte(guidesHTML))
	require.NoError(t, err)

	assert.Empty(t, batch.Records)
	require.Len(t, batch.Follow, 2)
	assert.Equal(t, "/sharedfiles/filedetails/?id=111", batch.Follow[0].Request.Path)
	assert.Equal(t, "/sharedfiles/filedetails/?id=222", batch.Follow[1].Request.Path)
	assert.False(t, batch.Empty())
}

const guideDetailHTML = `<html><body><div class="guide">
<a href="https://steamuserimages-a.akamaihd.net/ugc/9F3A/77BC/" class="modalContentLink"><img></a>
<a href="https://example.com/ugc/1/2/" class="modalContentLink"><img></a>
<a href="https://steamuserimages-a.akamaihd.net/ugc/bad path/" class="modalContentLink"><img></a>
</div></body></html>`

func TestGuideDetail(t *testing.T) {
	batch, err := GuideDetail("111").Extract([]byte(guideDetailHTML))
	require.NoError(t, err)

	require.Len(t, batch.Records, 1)
	assert.Equal(t, types.Record{Type: RecordGuides, ID: "111", Payload: guideDetailHTML}, batch.Records[0])

	require.Len(t, batch.Associations, 1)
	assert.Equal(t, "/ugc/9F3A/77BC/", batch.Associations[0].ChildID)
	require.Len(t, batch.Assets, 1)
	assert.Equal(t, "guideIMG/111/9F3A_77BC.jpg", batch.Assets[0].File)
}

const workshopHTML = `<html><body>
<div class="workshopItem">
  <a href="https://steamcommunity.com/sharedfiles/filedetails/?id=555&searchtext="><div class="workshopItemTitle ellipsis">Hat</div></a>
</div>
<div class="workshopItem">
  <a href="https://steamcommunity.com/sharedfiles/filedetails/?id=666&searchtext="><div class="workshopItemTitle ellipsis">Map</div></a>
</div>
<div class="workshopItemTitle">orphan</div>
</body></html>`

func TestWorkshopPage(t *testing.T) {
	batch, err := WorkshopPage().Extract([]byte(workshopHTML))
	require.NoError(t, err)

	require.Len(t, batch.Follow, 2)
	assert.Equal(t, FileDetailsPath("555"), batch.Follow[0].Request.Path)
	assert.Equal(t, FileDetailsPath("666"), batch.Follow[1].Request.Path)
	assert.Len(t, batch.Anomalies, 1)
}

const workshopItemHTML = `<html><body>
<a onclick="ShowEnlargedImagePreview( 'https://steamuserimages-a.akamaihd.net/ugc/123AB/CD45/' );"><img></a>
<a onclick="ShowEnlargedImagePreview( 'https://steamuserimages-a.akamaihd.net/ugc/123AB/CD45/' );"><img></a>
<a onclick="ShowEnlargedImagePreview( 'https://steamuserimages-a.akamaihd.net/ugc/999/888/' );"><img></a>
</body></html>`

func TestWorkshopItem(t *testing.T) {
	batch, err := WorkshopItem("555").Extract([]byte(workshopItemHTML))
	require.NoError(t, err)

	require.Len(t, batch.Records, 1)
	assert.Equal(t, RecordWorkshopItems, batch.Records[0].Type)
	require.Len(t, batch.Associations, 2)
	assert.Equal(t, "/ugc/123AB/CD45/", batch.Associations[0].ChildID)
	assert.Equal(t, "workshopIMG/555/999_888.jpg", batch.Assets[1].File)
}

const discussionsHTML = `<html><body>
<div class="forum_topic">
  <a class="forum_topic_overlay" href="https://steamcommunity.com/app/440/discussions/0/3001/"></a>
</div>
<div class="forum_topic">
  <a class="forum_topic_overlay" href="https://steamcommunity.com/app/440/discussions/0/3002/"></a>
</div>
</body></html>`

func TestDiscussionsPage(t *testing.T) {
	batch, err := DiscussionsPage().Extract([]byte(discussionsHTML))
	require.NoError(t, err)

	require.Len(t, batch.Follow, 2)
	assert.Equal(t, "/app/440/discussions/0/3001/", batch.Follow[0].Request.Path)
	assert.Equal(t, "discussion 3002", batch.Follow[1].Label)
}

const threadHTML = `<html><body>
<div class="forum_op">Original post</div>
<span id="commentthread_ForumTopic_123_456_pagestart">1</span> - <span>15</span> of <span id="commentthread_ForumTopic_123_456_pagetotal">1,031</span> comments
<div class="commentthread_comment responsive_body_text   " id="comment_9001"><div class="commentthread_comment_text">first</div></div>
<div class="commentthread_comment responsive_body_text   " id="comment_9002"><div class="commentthread_comment_text">second</div></div>
</body></html>`

func TestThread(t *testing.T) {
	path := "/app/440/discussions/0/3001/"
	batch, err := Thread("3001", path).Extract([]byte(threadHTML))
	require.NoError(t, err)

	require.Len(t, batch.Records, 3)
	assert.Equal(t, RecordDiscussions, batch.Records[0].Type)
	assert.Equal(t, "3001", batch.Records[0].ID)
	assert.Equal(t, types.Record{
		Type:     RecordDiscussionReplies,
		ID:       "9001",
		ParentID: "3001",
		Payload:  batch.Records[1].Payload,
	}, batch.Records[1])
	assert.Contains(t, batch.Records[2].Payload, "second")

	// 1031 replies at 15 per page is 69 pages; page 1 is this one.
	require.Len(t, batch.Follow, 68)
	assert.Equal(t, path+"?ctp=2", batch.Follow[0].Request.Path)
	assert.Equal(t, path+"?ctp=69", batch.Follow[67].Request.Path)
}

func TestThreadWithoutCount(t *testing.T) {
	batch, err := Thread("3001", "/app/440/discussions/0/3001/").Extract([]byte(`<html><body>locked</body></html>`))
	require.Error(t, err)
	require.NotNil(t, batch)
	assert.Len(t, batch.Records, 1)
	assert.Empty(t, batch.Follow)
}

func TestReplyPage(t *testing.T) {
	batch, err := ReplyPage("3001").Extract([]byte(threadHTML))
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, "3001", batch.Records[0].ParentID)
}
